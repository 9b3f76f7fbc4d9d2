// Package flock runs a named group of identically configured monkeys.
package flock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/identity"
	"github.com/wesleyorama2/mobu/internal/logging"
	"github.com/wesleyorama2/mobu/internal/metrics"
	"github.com/wesleyorama2/mobu/internal/monkey"
)

// issueConcurrency caps parallel identity requests during construction.
const issueConcurrency = 10

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("flock already started")

// Deps are the collaborators a flock needs to build its monkeys.
type Deps struct {
	Issuer      identity.Issuer
	Env         business.Environment
	Logger      zerolog.Logger
	GracePeriod time.Duration
	OnFailure   monkey.FailureHook
}

// Flock manages the lifecycle of a set of monkeys.
//
// It provides:
// - Deterministic identity generation and monkey construction
// - Batched start-up to throttle bursts against the platform
// - Concurrent shutdown bounded by the slowest monkey
// - Aggregate summaries and per-phase latency statistics
type Flock struct {
	config  Config
	logger  zerolog.Logger
	metrics *metrics.Engine

	// Members in creation order; the map indexes them by name.
	monkeys []*monkey.Monkey
	byName  map[string]*monkey.Monkey

	started   atomic.Bool
	mu        sync.RWMutex
	startedAt *time.Time
	cancel    context.CancelFunc
	batchDone chan struct{}

	now func() time.Time
}

// New validates cfg, issues one identity per member and builds the
// monkeys. No monkey runs until Start.
func New(ctx context.Context, cfg Config, deps Deps) (*Flock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Issuer == nil {
		return nil, errors.New("flock: no identity issuer configured")
	}

	f := &Flock{
		config:    cfg,
		logger:    logging.ForFlock(deps.Logger, cfg.Name),
		metrics:   metrics.NewEngine(),
		byName:    make(map[string]*monkey.Monkey, cfg.Count),
		batchDone: make(chan struct{}),
		now:       time.Now,
	}

	users, err := f.issueUsers(ctx, deps.Issuer)
	if err != nil {
		return nil, err
	}

	opts := []monkey.Option{monkey.WithGracePeriod(deps.GracePeriod)}
	if deps.OnFailure != nil {
		opts = append(opts, monkey.WithFailureHook(deps.OnFailure))
	}

	f.monkeys = make([]*monkey.Monkey, 0, len(users))
	for _, user := range users {
		logger := logging.ForMonkey(f.logger, user.Username, user.Username)
		b, err := business.New(cfg.Business, business.Params{
			User:     user,
			Env:      deps.Env,
			Logger:   logger,
			Recorder: f.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("flock %s: %w", cfg.Name, err)
		}
		m := monkey.New(user.Username, user, b, logger, opts...)
		f.monkeys = append(f.monkeys, m)
		f.byName[m.Name()] = m
	}

	f.logger.Info().Int("count", cfg.Count).Str("business", string(cfg.Business.Kind)).Msg("Created flock")
	return f, nil
}

func (f *Flock) issueUsers(ctx context.Context, issuer identity.Issuer) ([]identity.User, error) {
	reqs := f.config.UserSpec.Generate(f.config.Count, f.config.Scopes)
	users := make([]identity.User, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(issueConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			user, err := issuer.Issue(gctx, req)
			if err != nil {
				return fmt.Errorf("flock %s: %w", f.config.Name, err)
			}
			users[i] = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}

// Name returns the flock name.
func (f *Flock) Name() string {
	return f.config.Name
}

// Config returns the flock configuration.
func (f *Flock) Config() Config {
	return f.config
}

// Monkeys returns the members in creation order.
func (f *Flock) Monkeys() []*monkey.Monkey {
	return append([]*monkey.Monkey(nil), f.monkeys...)
}

// Monkey returns the member with the given name.
func (f *Flock) Monkey(name string) (*monkey.Monkey, bool) {
	m, ok := f.byName[name]
	return m, ok
}

// Start launches the members in batches of start_batch_size, pausing
// start_batch_wait between batches. The first batch begins immediately;
// the rest are started by a background goroutine, so Start returns without
// waiting for ramp-up. Use WaitStarted to wait for it.
//
// Members outlive ctx; they run until Stop.
func (f *Flock) Start(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, f.config.Name)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	now := f.now()

	f.mu.Lock()
	f.startedAt = &now
	f.cancel = cancel
	f.mu.Unlock()

	go f.startBatches(runCtx)
	return nil
}

func (f *Flock) startBatches(ctx context.Context) {
	defer close(f.batchDone)

	size := f.config.batchSize()
	wait := f.config.StartBatchWait.Std()

	for i := 0; i < len(f.monkeys); i += size {
		end := min(i+size, len(f.monkeys))
		batch := f.monkeys[i:end]

		f.logger.Info().Int("from", i).Int("to", end).Msg("Starting batch")
		var g errgroup.Group
		for _, m := range batch {
			g.Go(func() error { return m.Start(ctx) })
		}
		if err := g.Wait(); err != nil {
			f.logger.Warn().Err(err).Msg("Batch start failed")
		}

		if end == len(f.monkeys) || wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.logger.Info().Int("started", end).Msg("Start-up interrupted")
			return
		case <-timer.C:
		}
	}
	f.logger.Info().Int("count", len(f.monkeys)).Msg("All monkeys started")
}

// WaitStarted blocks until every batch has been started or start-up was
// interrupted by Stop.
func (f *Flock) WaitStarted(ctx context.Context) error {
	if !f.started.Load() {
		return fmt.Errorf("flock %s not started", f.config.Name)
	}
	select {
	case <-f.batchDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels pending batches and stops every member concurrently. Total
// time is bounded by the slowest member's cleanup.
func (f *Flock) Stop(ctx context.Context) error {
	f.logger.Info().Msg("Stopping flock")

	f.mu.RLock()
	cancel := f.cancel
	f.mu.RUnlock()

	if cancel != nil {
		cancel()
		select {
		case <-f.batchDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	errs := make([]error, len(f.monkeys))
	var g errgroup.Group
	for i, m := range f.monkeys {
		g.Go(func() error {
			errs[i] = m.Stop(ctx)
			return nil
		})
	}
	g.Wait()

	if err := errors.Join(errs...); err != nil {
		f.logger.Warn().Err(err).Msg("Some monkeys did not stop cleanly")
		return err
	}
	f.logger.Info().Msg("Flock stopped")
	return nil
}

// StartedAt returns when the first batch began, or nil before Start.
func (f *Flock) StartedAt() *time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.startedAt == nil {
		return nil
	}
	t := *f.startedAt
	return &t
}

// Summarize aggregates the members' counters.
func (f *Flock) Summarize() Summary {
	s := Summary{
		Name:        f.config.Name,
		Business:    f.config.Business.Kind,
		Start:       f.StartedAt(),
		MonkeyCount: len(f.monkeys),
	}
	for _, m := range f.monkeys {
		s.SuccessCount += m.Business().SuccessCount()
		s.FailureCount += m.Business().FailureCount()
	}
	return s
}

// Detail returns the configuration, member dumps and phase statistics.
func (f *Flock) Detail() Detail {
	d := Detail{
		Config:  f.config,
		Summary: f.Summarize(),
		Monkeys: make([]monkey.Data, 0, len(f.monkeys)),
		Phases:  f.metrics.GetPhaseStats(),
		Overall: f.metrics.GetSnapshot(),
	}
	for _, m := range f.monkeys {
		d.Monkeys = append(d.Monkeys, m.Dump())
	}
	return d
}

// Stats returns the flock's view for the metrics collector.
func (f *Flock) Stats() metrics.FlockStats {
	s := f.Summarize()
	return metrics.FlockStats{
		Name:     s.Name,
		Business: string(s.Business),
		Monkeys:  s.MonkeyCount,
		Success:  s.SuccessCount,
		Failure:  s.FailureCount,
		Phases:   f.metrics.GetPhaseStats(),
	}
}
