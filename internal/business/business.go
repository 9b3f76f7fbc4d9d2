package business

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/identity"
	"github.com/wesleyorama2/mobu/internal/timings"
)

// Error is a failed phase of a business loop.
type Error struct {
	Kind  Kind
	Event string
	User  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s failed for %s: %v", e.Kind, e.Event, e.User, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Params carries what a business needs beyond its spec.
type Params struct {
	User     identity.User
	Env      Environment
	Logger   zerolog.Logger
	Recorder timings.Recorder
}

// behavior is the run loop of one variant.
type behavior interface {
	// run loops until an error or ctx cancellation.
	run(ctx context.Context, b *Business) error

	// cleanup releases whatever the loop still holds. It must be safe to
	// call when nothing is held.
	cleanup(ctx context.Context, b *Business) error
}

// Business runs one variant loop with shared timing and counting.
//
// # Thread Safety
//
// Run is called from a single goroutine. Dump, SuccessCount and FailureCount
// may be called concurrently with it.
type Business struct {
	kind     Kind
	options  Options
	user     identity.User
	behavior behavior
	timings  *timings.Timings
	logger   zerolog.Logger

	success atomic.Int64
	failure atomic.Int64

	cleanupMu sync.Mutex
}

// New builds the business described by spec. Unknown kinds and missing
// protocol clients are rejected before anything runs.
func New(spec Spec, p Params) (*Business, error) {
	b := &Business{
		kind:    spec.Kind,
		options: spec.Options,
		user:    p.User,
		timings: timings.New(p.Recorder),
		logger:  p.Logger.With().Str("business", string(spec.Kind)).Logger(),
	}

	bh, err := newBehavior(spec, p)
	if err != nil {
		return nil, err
	}
	b.behavior = bh
	return b, nil
}

// Kind returns the business variant.
func (b *Business) Kind() Kind {
	return b.kind
}

// SuccessCount returns the number of completed iterations.
func (b *Business) SuccessCount() int64 {
	return b.success.Load()
}

// FailureCount returns the number of failed loops.
func (b *Business) FailureCount() int64 {
	return b.failure.Load()
}

// Timings returns the phase log.
func (b *Business) Timings() *timings.Timings {
	return b.timings
}

// Run executes the loop until it fails or ctx is canceled.
//
// A failure increments the failure count, runs cleanup and returns the
// *Error. Cancellation runs cleanup and returns ctx.Err(); it is never
// counted as a failure.
func (b *Business) Run(ctx context.Context) error {
	b.logger.Info().Msg("Starting business loop")

	err := b.runBehavior(ctx)
	cleanupCtx := context.WithoutCancel(ctx)

	// Once ctx is done any error is a side effect of the cancellation.
	if ctx.Err() != nil {
		b.logger.Info().Msg("Business loop canceled, cleaning up")
		if cerr := b.Stop(cleanupCtx); cerr != nil {
			b.logger.Warn().Err(cerr).Msg("Cleanup after cancellation failed")
		}
		return ctx.Err()
	}

	if err == nil {
		return nil
	}

	b.failure.Add(1)
	b.logger.Error().Err(err).Msg("Business loop failed")
	if cerr := b.Stop(cleanupCtx); cerr != nil {
		b.logger.Warn().Err(cerr).Msg("Cleanup after failure failed")
	}
	return err
}

// runBehavior turns a panic in the loop into an ordinary failure so it is
// counted and cleaned up like any other.
func (b *Business) runBehavior(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: b.kind, Event: "panic", User: b.user.Username, Err: fmt.Errorf("%v", r)}
		}
	}()
	return b.behavior.run(ctx, b)
}

// Stop releases external resources the loop holds. It is idempotent.
func (b *Business) Stop(ctx context.Context) error {
	b.cleanupMu.Lock()
	defer b.cleanupMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.options.DeleteTimeout.GetDuration(DefaultDeleteTimeout))
	defer cancel()
	return b.behavior.cleanup(ctx, b)
}

// Data is a snapshot of a business.
type Data struct {
	Name         Kind                    `json:"name"`
	SuccessCount int64                   `json:"success_count"`
	FailureCount int64                   `json:"failure_count"`
	Timings      []timings.StopwatchData `json:"timings"`
}

// Dump returns a snapshot of counts and timings.
func (b *Business) Dump() Data {
	return Data{
		Name:         b.kind,
		SuccessCount: b.success.Load(),
		FailureCount: b.failure.Load(),
		Timings:      b.timings.Dump(),
	}
}

// Time brackets one phase with a stopwatch linked to the previous phase.
// Failures other than cancellation are wrapped in *Error.
func (b *Business) Time(event string, annotations map[string]any, fn func() error) error {
	return b.TimeAfter(b.timings.Last(), event, annotations, fn)
}

// TimeAfter is Time with an explicit previous stopwatch.
func (b *Business) TimeAfter(previous *timings.Stopwatch, event string, annotations map[string]any, fn func() error) error {
	b.logger.Debug().Str("event", event).Msg("Phase starting")
	err := b.timings.Time(event, annotations, previous, func(*timings.Stopwatch) error {
		return fn()
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: b.kind, Event: event, User: b.user.Username, Err: err}
}

// Sleep waits for d or until ctx is done. It is the suspension point of
// every wait phase.
func (b *Business) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Wait is a timed Sleep phase.
func (b *Business) Wait(ctx context.Context, event string, d time.Duration) error {
	return b.Time(event, map[string]any{"duration": d.String()}, func() error {
		return b.Sleep(ctx, d)
	})
}

// Succeed records one completed iteration.
func (b *Business) Succeed() {
	b.success.Add(1)
}

// Logger returns the business log sink.
func (b *Business) Logger() zerolog.Logger {
	return b.logger
}
