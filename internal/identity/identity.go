// Package identity issues the user identities that monkeys act as.
package identity

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wesleyorama2/mobu/internal/config"
)

// Group is a group membership granted to a user.
type Group struct {
	Name string `json:"name" yaml:"name"`
	ID   int    `json:"id" yaml:"id"`
}

// User is an issued identity. It is immutable once issued.
type User struct {
	Username string   `json:"username"`
	UID      int      `json:"uidnumber"`
	GID      *int     `json:"gidnumber,omitempty"`
	Groups   []Group  `json:"groups,omitempty"`
	Scopes   []string `json:"scopes"`

	// Token is the credential used by protocol clients. Never serialized.
	Token string `json:"-"`
}

// Request asks an Issuer for one identity.
type Request struct {
	Username string
	UID      int
	GID      *int
	Groups   []Group
	Scopes   []string
}

// Issuer obtains a usable credential for a requested identity.
type Issuer interface {
	Issue(ctx context.Context, req Request) (User, error)
}

// Template generates sequential identities for a flock.
type Template struct {
	// UsernamePrefix is followed by a zero-padded member index.
	UsernamePrefix string `json:"username_prefix" yaml:"username_prefix"`

	// UIDStart is the uid of the first member; later members increment it.
	UIDStart int `json:"uid_start" yaml:"uid_start"`

	// GIDStart, when set, gives every member a primary group incremented
	// like the uid.
	GIDStart *int `json:"gid_start,omitempty" yaml:"gid_start,omitempty"`

	// Groups are supplementary groups every member receives.
	Groups []Group `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Validate checks the template, adding problems to errs under prefix.
func (t *Template) Validate(prefix string, errs *config.ValidationErrors) {
	if t.UsernamePrefix == "" {
		errs.Add(prefix+".username_prefix", "username prefix is required")
	}
	if t.UIDStart <= 0 {
		errs.Add(prefix+".uid_start", "uid start must be greater than 0")
	}
	if t.GIDStart != nil && *t.GIDStart <= 0 {
		errs.Add(prefix+".gid_start", "gid start must be greater than 0")
	}
}

// Generate returns count requests with deterministic, distinct usernames.
//
// Usernames are the prefix followed by the 1-based index zero-padded to the
// number of digits in count, with a minimum width of two.
func (t *Template) Generate(count int, scopes []string) []Request {
	width := len(strconv.Itoa(count))
	if width < 2 {
		width = 2
	}

	requests := make([]Request, 0, count)
	for i := 1; i <= count; i++ {
		req := Request{
			Username: fmt.Sprintf("%s%0*d", t.UsernamePrefix, width, i),
			UID:      t.UIDStart + i - 1,
			Groups:   append([]Group(nil), t.Groups...),
			Scopes:   append([]string(nil), scopes...),
		}
		if t.GIDStart != nil {
			gid := *t.GIDStart + i - 1
			req.GID = &gid
		}
		requests = append(requests, req)
	}
	return requests
}

// StaticIssuer hands out a fixed token. It is used for development and tests
// where no token service is available.
type StaticIssuer struct {
	Token string
}

// Issue implements Issuer.
func (s StaticIssuer) Issue(ctx context.Context, req Request) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	return userFrom(req, s.Token), nil
}

func userFrom(req Request, token string) User {
	return User{
		Username: req.Username,
		UID:      req.UID,
		GID:      req.GID,
		Groups:   req.Groups,
		Scopes:   req.Scopes,
		Token:    token,
	}
}
