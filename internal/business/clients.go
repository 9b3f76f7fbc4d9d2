package business

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/identity"
	"github.com/wesleyorama2/mobu/internal/notebook"
)

// JupyterClient talks to the notebook platform on behalf of one user.
type JupyterClient interface {
	// Login authenticates to the hub.
	Login(ctx context.Context) error

	// SpawnLab starts the user's lab and waits until it is ready.
	SpawnLab(ctx context.Context) error

	// DeleteLab stops the user's lab.
	DeleteLab(ctx context.Context) error

	// OpenSession creates a kernel session inside the running lab.
	OpenSession(ctx context.Context, name string) (KernelSession, error)
}

// KernelSession is an execution context inside a lab.
type KernelSession interface {
	// Execute runs code and returns its output. A kernel-side exception is
	// returned as an error.
	Execute(ctx context.Context, code string) (string, error)

	// Close deletes the session.
	Close(ctx context.Context) error
}

// QueryClient talks to the query service on behalf of one user.
type QueryClient interface {
	// Authenticate checks that the service accepts the user's credential.
	Authenticate(ctx context.Context) error

	// Query runs one synchronous query and returns the number of rows.
	Query(ctx context.Context, query string) (int, error)
}

// NotebookSource lists the notebooks NotebookRunner can execute.
type NotebookSource interface {
	Notebooks() ([]notebook.Notebook, error)
}

// Environment builds per-user protocol clients.
type Environment struct {
	Jupyter   func(user identity.User, logger zerolog.Logger) JupyterClient
	Query     func(user identity.User, logger zerolog.Logger) QueryClient
	Notebooks NotebookSource
}

var (
	errNoJupyter   = errors.New("no notebook platform client configured")
	errNoQuery     = errors.New("no query service client configured")
	errNoNotebooks = errors.New("no notebook repository configured")
)

func (p Params) jupyter() (JupyterClient, error) {
	if p.Env.Jupyter == nil {
		return nil, errNoJupyter
	}
	return p.Env.Jupyter(p.User, p.Logger), nil
}

func (p Params) query() (QueryClient, error) {
	if p.Env.Query == nil {
		return nil, errNoQuery
	}
	return p.Env.Query(p.User, p.Logger), nil
}
