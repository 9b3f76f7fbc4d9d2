// Package tap is a minimal client for a Table Access Protocol query service.
package tap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/business"
	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
	"github.com/wesleyorama2/mobu/internal/identity"
)

// DefaultQueryTimeout bounds one synchronous query.
const DefaultQueryTimeout = 5 * time.Minute

// ErrUnavailable is returned when the service reports itself unavailable.
var ErrUnavailable = errors.New("TAP service unavailable")

// Config describes the query service.
type Config struct {
	BaseURL string

	// Path is the service root below BaseURL. Defaults to /api/tap.
	Path string

	QueryTimeout time.Duration
}

// Client runs queries as one user.
type Client struct {
	path   string
	http   *mobuhttp.Client
	logger zerolog.Logger
}

// NewClient creates a client authenticated as user.
func NewClient(cfg Config, user identity.User, logger zerolog.Logger) *Client {
	if cfg.Path == "" {
		cfg.Path = "/api/tap"
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Client{
		path: strings.TrimRight(cfg.Path, "/"),
		http: mobuhttp.NewClient(
			mobuhttp.WithBaseURL(cfg.BaseURL),
			mobuhttp.WithBearerToken(user.Token),
			mobuhttp.WithTimeout(cfg.QueryTimeout),
		),
		logger: logger,
	}
}

// Factory returns a business.Environment constructor for cfg.
func Factory(cfg Config) func(identity.User, zerolog.Logger) business.QueryClient {
	return func(user identity.User, logger zerolog.Logger) business.QueryClient {
		return NewClient(cfg, user, logger)
	}
}

// Authenticate checks the availability endpoint with the user's token.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.http.Do(ctx, mobuhttp.NewRequest(http.MethodGet, c.path+"/availability"))
	if err != nil {
		return fmt.Errorf("checking availability: %w", err)
	}
	if err := resp.Err(); err != nil {
		return fmt.Errorf("checking availability: %w", err)
	}
	if !strings.Contains(resp.GetBodyAsString(), "available>true<") {
		return ErrUnavailable
	}
	return nil
}

// Query submits an ADQL query synchronously and returns the number of
// result rows.
func (c *Client) Query(ctx context.Context, query string) (int, error) {
	form := url.Values{
		"LANG":   {"ADQL"},
		"QUERY":  {query},
		"FORMAT": {"csv"},
	}
	resp, err := c.http.Do(ctx, mobuhttp.NewRequest(http.MethodPost, c.path+"/sync").WithForm(form))
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	if err := resp.Err(); err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	rows := countRows(resp.GetBodyAsString())
	c.logger.Debug().Int("rows", rows).Dur("elapsed", resp.ResponseTime).Msg("Query finished")
	return rows, nil
}

// countRows counts the non-empty CSV lines after the header.
func countRows(body string) int {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	rows := -1
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			rows++
		}
	}
	return max(rows, 0)
}
