package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
)

// TokenIssuer creates service tokens through the token admin API.
type TokenIssuer struct {
	client *mobuhttp.Client
}

// NewTokenIssuer creates an issuer for the environment at baseURL using the
// admin token to authenticate.
func NewTokenIssuer(baseURL, adminToken string, timeout time.Duration) *TokenIssuer {
	return &TokenIssuer{
		client: mobuhttp.NewClient(
			mobuhttp.WithBaseURL(baseURL),
			mobuhttp.WithBearerToken(adminToken),
			mobuhttp.WithTimeout(timeout),
		),
	}
}

type tokenRequest struct {
	Username  string   `json:"username"`
	TokenType string   `json:"token_type"`
	TokenName string   `json:"token_name"`
	Scopes    []string `json:"scopes"`
	UID       int      `json:"uid"`
	GID       *int     `json:"gid,omitempty"`
	Groups    []Group  `json:"groups,omitempty"`
	Name      string   `json:"name"`
}

// Issue implements Issuer.
func (t *TokenIssuer) Issue(ctx context.Context, req Request) (User, error) {
	body := tokenRequest{
		Username:  req.Username,
		TokenType: "service",
		TokenName: "mobu " + req.Username,
		Scopes:    req.Scopes,
		UID:       req.UID,
		GID:       req.GID,
		Groups:    req.Groups,
		Name:      "Mobu Test User",
	}
	if body.Scopes == nil {
		body.Scopes = []string{}
	}

	resp, err := t.client.Do(ctx, mobuhttp.NewRequest("POST", "/auth/api/v1/tokens").WithBody(body))
	if err != nil {
		return User{}, fmt.Errorf("issuing token for %s: %w", req.Username, err)
	}
	if err := resp.Err(); err != nil {
		return User{}, fmt.Errorf("issuing token for %s: %w", req.Username, err)
	}

	token := resp.JSON().Get("token").String()
	if token == "" {
		return User{}, fmt.Errorf("issuing token for %s: %w", req.Username, errors.New("response has no token"))
	}
	return userFrom(req, token), nil
}
