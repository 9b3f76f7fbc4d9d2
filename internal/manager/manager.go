// Package manager keeps the process-wide registry of running flocks.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/mobu/internal/config"
	"github.com/wesleyorama2/mobu/internal/flock"
	"github.com/wesleyorama2/mobu/internal/metrics"
)

var (
	// ErrFlockNotFound is returned for operations on an unknown flock.
	ErrFlockNotFound = errors.New("flock not found")

	// ErrFlockExists is returned when a flock name is already in use.
	ErrFlockExists = errors.New("flock already exists")

	// ErrShutdown is returned by Create after Shutdown.
	ErrShutdown = errors.New("manager is shut down")
)

// SpecificationError reports a flock configuration that was rejected
// before anything was constructed or registered.
type SpecificationError struct {
	Name   string
	Errors *config.ValidationErrors
	Err    error
}

func (e *SpecificationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("invalid flock %q: %v", e.Name, e.Err)
	case e.Errors != nil:
		return fmt.Sprintf("invalid flock %q: %v", e.Name, e.Errors)
	default:
		return fmt.Sprintf("invalid flock %q", e.Name)
	}
}

func (e *SpecificationError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Errors != nil {
		errs = append(errs, e.Errors)
	}
	return errs
}

// Manager owns every flock in the process.
//
// Names are reserved under the lock before a flock is built so that
// identity issuance for a large flock does not block reads.
type Manager struct {
	deps   flock.Deps
	logger zerolog.Logger

	mu      sync.RWMutex
	flocks  map[string]*flock.Flock
	pending map[string]struct{}
	closed  bool
}

// New creates an empty manager. deps are passed to every flock it builds.
func New(deps flock.Deps) *Manager {
	return &Manager{
		deps:    deps,
		logger:  deps.Logger.With().Str("component", "manager").Logger(),
		flocks:  make(map[string]*flock.Flock),
		pending: make(map[string]struct{}),
	}
}

// Create validates cfg, builds the flock, starts its batched start-up and
// registers it. Configuration problems are reported as *SpecificationError
// and leave the registry unchanged.
func (m *Manager) Create(ctx context.Context, cfg flock.Config) (flock.Summary, error) {
	if err := cfg.Validate(); err != nil {
		var verrs *config.ValidationErrors
		if errors.As(err, &verrs) {
			return flock.Summary{}, &SpecificationError{Name: cfg.Name, Errors: verrs}
		}
		return flock.Summary{}, &SpecificationError{Name: cfg.Name, Err: err}
	}

	if err := m.reserve(cfg.Name); err != nil {
		return flock.Summary{}, err
	}

	f, err := flock.New(ctx, cfg, m.deps)
	if err != nil {
		m.release(cfg.Name)
		return flock.Summary{}, fmt.Errorf("failed to create flock %s: %w", cfg.Name, err)
	}

	if err := f.Start(ctx); err != nil {
		m.release(cfg.Name)
		return flock.Summary{}, err
	}

	m.mu.Lock()
	delete(m.pending, cfg.Name)
	closed := m.closed
	if !closed {
		m.flocks[cfg.Name] = f
	}
	m.mu.Unlock()

	if closed {
		f.Stop(context.WithoutCancel(ctx))
		return flock.Summary{}, ErrShutdown
	}

	m.logger.Info().Str("flock", cfg.Name).Int("count", cfg.Count).Msg("Flock created")
	return f.Summarize(), nil
}

func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrShutdown
	}
	_, running := m.flocks[name]
	_, building := m.pending[name]
	if running || building {
		return &SpecificationError{Name: name, Err: ErrFlockExists}
	}
	m.pending[name] = struct{}{}
	return nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.pending, name)
	m.mu.Unlock()
}

// Delete stops a flock and removes it. The name is free for reuse as soon
// as Delete returns. Monkeys that outlive the grace period are logged, not
// reported as an error.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	f, ok := m.flocks[name]
	if ok {
		delete(m.flocks, name)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrFlockNotFound, name)
	}

	m.logger.Info().Str("flock", name).Msg("Deleting flock")
	if err := f.Stop(ctx); err != nil {
		// The name is already released; stragglers finish on their own.
		m.logger.Warn().Err(err).Str("flock", name).Msg("Flock deleted before all monkeys stopped")
	}
	return nil
}

// List returns the names of all flocks, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.flocks))
	for name := range m.flocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the detail view of one flock.
func (m *Manager) Get(name string) (flock.Detail, error) {
	f, ok := m.flock(name)
	if !ok {
		return flock.Detail{}, fmt.Errorf("%w: %s", ErrFlockNotFound, name)
	}
	return f.Detail(), nil
}

// Flock returns the named flock.
func (m *Manager) Flock(name string) (*flock.Flock, bool) {
	return m.flock(name)
}

func (m *Manager) flock(name string) (*flock.Flock, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flocks[name]
	return f, ok
}

// snapshot returns the registered flocks sorted by name.
func (m *Manager) snapshot() []*flock.Flock {
	m.mu.RLock()
	flocks := make([]*flock.Flock, 0, len(m.flocks))
	for _, f := range m.flocks {
		flocks = append(flocks, f)
	}
	m.mu.RUnlock()

	sort.Slice(flocks, func(i, j int) bool { return flocks[i].Name() < flocks[j].Name() })
	return flocks
}

// SummarizeFlocks returns a summary of every flock, sorted by name.
func (m *Manager) SummarizeFlocks() []flock.Summary {
	flocks := m.snapshot()
	summaries := make([]flock.Summary, 0, len(flocks))
	for _, f := range flocks {
		summaries = append(summaries, f.Summarize())
	}
	return summaries
}

// FlockStats feeds the Prometheus collector.
func (m *Manager) FlockStats() []metrics.FlockStats {
	flocks := m.snapshot()
	stats := make([]metrics.FlockStats, 0, len(flocks))
	for _, f := range flocks {
		stats = append(stats, f.Stats())
	}
	return stats
}

// Autostart creates every flock in cfgs. A flock that cannot be created is
// logged and skipped; the returned error joins all failures.
func (m *Manager) Autostart(ctx context.Context, cfgs []flock.Config) error {
	var errs []error
	for _, cfg := range cfgs {
		if _, err := m.Create(ctx, cfg); err != nil {
			m.logger.Error().Err(err).Str("flock", cfg.Name).Msg("Autostart failed")
			errs = append(errs, err)
			continue
		}
		m.logger.Info().Str("flock", cfg.Name).Msg("Autostarted flock")
	}
	return errors.Join(errs...)
}

// Shutdown stops every flock concurrently and refuses further creates.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	flocks := make([]*flock.Flock, 0, len(m.flocks))
	for _, f := range m.flocks {
		flocks = append(flocks, f)
	}
	clear(m.flocks)
	m.mu.Unlock()

	m.logger.Info().Int("flocks", len(flocks)).Msg("Shutting down")

	errs := make([]error, len(flocks))
	var g errgroup.Group
	for i, f := range flocks {
		g.Go(func() error {
			errs[i] = f.Stop(ctx)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}
