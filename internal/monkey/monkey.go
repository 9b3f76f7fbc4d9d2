// Package monkey supervises one business as a cancellable task.
package monkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/identity"
)

// DefaultGracePeriod bounds how long Stop waits for cleanup. It exceeds
// business.DefaultDeleteTimeout so lab deletion can finish.
const DefaultGracePeriod = 90 * time.Second

var (
	// ErrAlreadyStarted is returned when Start is called twice. Monkeys are
	// not restarted in place; build a new one instead.
	ErrAlreadyStarted = errors.New("monkey already started")

	// ErrStopTimeout is returned when the task outlives the grace period.
	ErrStopTimeout = errors.New("monkey did not stop within grace period")
)

// State represents the lifecycle state of a Monkey.
type State int32

const (
	// StateCreated indicates the monkey has not been started.
	StateCreated State = iota
	// StateRunning indicates the business loop is running.
	StateRunning
	// StateStopping indicates cancellation has been requested.
	StateStopping
	// StateStopped indicates the task ended through Stop.
	StateStopped
	// StateFailed indicates the business loop ended with an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateCreated; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown monkey state %q", text)
}

// FailureHook is told about a monkey whose business failed.
type FailureHook func(m *Monkey, err error)

// Monkey represents one simulated user running one business.
//
// Each Monkey has its own:
// - Identity (issued before construction)
// - Business instance with its own timings and counters
// - Log sink tagged with its name and user
// - Lifecycle management
type Monkey struct {
	name        string
	user        identity.User
	business    *business.Business
	logger      zerolog.Logger
	gracePeriod time.Duration
	onFailure   FailureHook

	// Lifecycle state (atomic for lock-free reads)
	state atomic.Int32

	// Done signal (closed when the task fully stops)
	doneCh chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	err    error
}

// Option configures a Monkey.
type Option func(*Monkey)

// WithGracePeriod sets how long Stop waits for cleanup.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Monkey) {
		if d > 0 {
			m.gracePeriod = d
		}
	}
}

// WithFailureHook registers a hook run when the business fails. The hook
// runs after Done is closed.
func WithFailureHook(hook FailureHook) Option {
	return func(m *Monkey) {
		m.onFailure = hook
	}
}

// New creates a monkey. Nothing runs until Start.
func New(name string, user identity.User, b *business.Business, logger zerolog.Logger, opts ...Option) *Monkey {
	m := &Monkey{
		name:        name,
		user:        user,
		business:    b,
		logger:      logger,
		gracePeriod: DefaultGracePeriod,
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the monkey name, unique within its flock.
func (m *Monkey) Name() string {
	return m.name
}

// User returns the identity the monkey acts as.
func (m *Monkey) User() identity.User {
	return m.user
}

// Business returns the supervised business.
func (m *Monkey) Business() *business.Business {
	return m.business
}

// State returns the current lifecycle state.
func (m *Monkey) State() State {
	return State(m.state.Load())
}

// Err returns the error that failed the monkey, if any.
func (m *Monkey) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed once the task has ended.
func (m *Monkey) Done() <-chan struct{} {
	return m.doneCh
}

// Start launches the business loop in its own goroutine. The task lives
// until ctx is canceled, Stop is called, or the business fails.
func (m *Monkey) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyStarted, m.name, m.State())
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info().Msg("Starting monkey")
	go m.run(runCtx)
	return nil
}

func (m *Monkey) run(ctx context.Context) {
	var failure error
	defer func() {
		// Done closes before the hook runs.
		close(m.doneCh)
		if failure != nil && m.onFailure != nil {
			m.onFailure(m, failure)
		}
	}()

	err := m.business.Run(ctx)

	switch {
	case ctx.Err() != nil:
		m.state.Store(int32(StateStopped))
		m.logger.Info().Msg("Monkey stopped")
	case err != nil:
		m.mu.Lock()
		m.err = err
		m.mu.Unlock()
		m.state.Store(int32(StateFailed))
		m.logger.Error().Err(err).Msg("Monkey failed")
		failure = err
	default:
		m.state.Store(int32(StateStopped))
	}
}

// Stop cancels the task and waits for cleanup, bounded by the grace period
// and ctx. A monkey that was never started moves straight to stopped; a
// failed monkey stays failed.
func (m *Monkey) Stop(ctx context.Context) error {
	if m.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		close(m.doneCh)
		return nil
	}

	m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	timer := time.NewTimer(m.gracePeriod)
	defer timer.Stop()

	select {
	case <-m.doneCh:
		return nil
	case <-timer.C:
		m.logger.Warn().Dur("grace_period", m.gracePeriod).Msg("Monkey did not stop in time")
		return fmt.Errorf("%w: %s", ErrStopTimeout, m.name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Data is a snapshot of a monkey.
type Data struct {
	Name     string        `json:"name"`
	User     identity.User `json:"user"`
	State    State         `json:"state"`
	Error    string        `json:"error,omitempty"`
	Business business.Data `json:"business"`
}

// Dump returns a snapshot of the monkey and its business.
func (m *Monkey) Dump() Data {
	d := Data{
		Name:     m.name,
		User:     m.user,
		State:    m.State(),
		Business: m.business.Dump(),
	}
	if err := m.Err(); err != nil {
		d.Error = err.Error()
	}
	return d
}
