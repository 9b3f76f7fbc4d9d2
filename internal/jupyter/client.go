// Package jupyter drives a JupyterHub-based notebook platform as one user:
// hub login, lab spawn and deletion, and kernel sessions.
package jupyter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/mobu/internal/business"
	mobuhttp "github.com/wesleyorama2/mobu/internal/http"
	"github.com/wesleyorama2/mobu/internal/identity"
)

const (
	// DefaultSpawnTimeout bounds how long SpawnLab waits for the lab.
	DefaultSpawnTimeout = 10 * time.Minute

	// DefaultDeleteTimeout bounds how long DeleteLab waits for the lab to go.
	DefaultDeleteTimeout = time.Minute

	defaultPollInterval = time.Second
	xsrfCookie          = "_xsrf"
	xsrfHeader          = "X-XSRFToken"
)

// ErrSpawnFailed is returned when the hub gives up on a pending spawn.
var ErrSpawnFailed = errors.New("lab spawn failed")

// Config describes the notebook platform.
type Config struct {
	// BaseURL is the environment root, e.g. https://data.example.org.
	BaseURL string

	// HubPath and UserPath locate the hub and the per-user lab proxies.
	HubPath  string
	UserPath string

	// Image and Size are sent in the spawn form.
	Image string
	Size  string

	SpawnTimeout  time.Duration
	DeleteTimeout time.Duration
	PollInterval  time.Duration
	HTTPTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HubPath == "" {
		c.HubPath = "/nb/hub"
	}
	if c.UserPath == "" {
		c.UserPath = "/nb/user"
	}
	if c.Image == "" {
		c.Image = "recommended"
	}
	if c.Size == "" {
		c.Size = "Small"
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = DefaultSpawnTimeout
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = DefaultDeleteTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Client talks to the platform as a single user. It keeps the hub and lab
// cookies between calls.
type Client struct {
	cfg    Config
	user   identity.User
	http   *mobuhttp.Client
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewClient creates a client for user.
func NewClient(cfg Config, user identity.User, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	hc := mobuhttp.NewClient(
		mobuhttp.WithBaseURL(cfg.BaseURL),
		mobuhttp.WithBearerToken(user.Token),
		mobuhttp.WithCookieJar(),
		mobuhttp.WithTimeout(cfg.HTTPTimeout),
	)
	return &Client{
		cfg:  cfg,
		user: user,
		http: hc,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			Jar:              hc.Jar(),
		},
		logger: logger,
	}
}

// Factory returns a business.Environment constructor for cfg.
func Factory(cfg Config) func(identity.User, zerolog.Logger) business.JupyterClient {
	return func(user identity.User, logger zerolog.Logger) business.JupyterClient {
		return NewClient(cfg, user, logger)
	}
}

func (c *Client) hubPath(path string) string {
	return c.cfg.HubPath + path
}

func (c *Client) labPath(path string) string {
	return c.cfg.UserPath + "/" + c.user.Username + path
}

// xsrf returns the hub's anti-forgery token from the cookie jar.
func (c *Client) xsrf() string {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil || c.http.Jar() == nil {
		return ""
	}
	base.Path = c.cfg.HubPath + "/"
	for _, cookie := range c.http.Jar().Cookies(base) {
		if cookie.Name == xsrfCookie {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) do(ctx context.Context, req *mobuhttp.Request, allowed ...int) (*mobuhttp.Response, error) {
	if token := c.xsrf(); token != "" {
		req.WithHeader(xsrfHeader, token)
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(allowed...); err != nil {
		return nil, err
	}
	return resp, nil
}

// Login opens a hub session.
func (c *Client) Login(ctx context.Context) error {
	if _, err := c.do(ctx, mobuhttp.NewRequest(http.MethodGet, c.hubPath("/home"))); err != nil {
		return fmt.Errorf("hub login: %w", err)
	}
	c.logger.Debug().Msg("Logged in to hub")
	return nil
}

// SpawnLab requests a lab and waits until the hub reports it ready.
func (c *Client) SpawnLab(ctx context.Context) error {
	form := url.Values{
		"image_class": {c.cfg.Image},
		"size":        {c.cfg.Size},
	}
	if _, err := c.do(ctx, mobuhttp.NewRequest(http.MethodPost, c.hubPath("/spawn")).WithForm(form)); err != nil {
		return fmt.Errorf("spawning lab: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SpawnTimeout)
	defer cancel()

	seenPending := false
	err := c.poll(ctx, func(state gjson.Result) (bool, error) {
		pending := state.Get("pending")
		ready := state.Get("server").String() != "" && !present(pending)
		switch {
		case ready:
			return true, nil
		case pending.String() == "spawn":
			seenPending = true
		case seenPending && !present(pending):
			return false, ErrSpawnFailed
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for lab: %w", err)
	}
	c.logger.Debug().Msg("Lab is ready")
	return nil
}

// DeleteLab stops the user's lab and waits until it is gone. Deleting a
// lab that does not exist succeeds.
func (c *Client) DeleteLab(ctx context.Context) error {
	req := mobuhttp.NewRequest(http.MethodDelete, c.hubPath("/api/users/"+c.user.Username+"/server"))
	if _, err := c.do(ctx, req, http.StatusNotFound); err != nil {
		return fmt.Errorf("deleting lab: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeleteTimeout)
	defer cancel()

	err := c.poll(ctx, func(state gjson.Result) (bool, error) {
		return state.Get("server").String() == "" && !present(state.Get("pending")), nil
	})
	if err != nil {
		return fmt.Errorf("waiting for lab deletion: %w", err)
	}
	c.logger.Debug().Msg("Lab deleted")
	return nil
}

// poll fetches the hub's user model until done reports true.
func (c *Client) poll(ctx context.Context, done func(gjson.Result) (bool, error)) error {
	path := c.hubPath("/api/users/" + c.user.Username)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.do(ctx, mobuhttp.NewRequest(http.MethodGet, path), http.StatusNotFound)
		if err != nil {
			return err
		}
		state := resp.JSON()
		if resp.StatusCode == http.StatusNotFound {
			state = gjson.Parse("{}")
		}
		ok, err := done(state)
		if err != nil || ok {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// present reports whether a field is set to a non-null value.
func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}
