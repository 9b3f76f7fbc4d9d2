// Package timings records nested, named phases of a running business loop.
//
// A Timings holds an append-only list of Stopwatches. Each Stopwatch brackets
// one phase: it is started on scope entry and stopped on scope exit, whether
// the bracketed work succeeded, failed, was cancelled, or panicked.
//
// # Thread Safety
//
// A Timings is written by the single goroutine running its business loop and
// may be read concurrently (Dump, Len, Last) from control-path goroutines.
// All access to the list and to stopwatch stop/failed fields goes through the
// Timings mutex.
package timings

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errPanicked = errors.New("bracketed work panicked")

// Recorder receives every finished stopwatch.
//
// The signature matches metrics.Engine.RecordLatency so a flock's metrics
// engine can be plugged in directly.
type Recorder interface {
	RecordLatency(duration time.Duration, name string, success bool, bytes int64)
}

// Stopwatch is a single timed event.
type Stopwatch struct {
	// Event is the phase name.
	Event string

	// Annotations are free-form labels attached to the event.
	Annotations map[string]any

	// Start is stamped when the stopwatch is created.
	Start time.Time

	// Previous optionally links to the phase that preceded this one. It is
	// used only to compute Gap.
	Previous *Stopwatch

	owner  *Timings
	stop   time.Time
	failed bool
}

// Timings is the ordered log of stopwatches for one business run.
type Timings struct {
	mu       sync.RWMutex
	entries  []*Stopwatch
	recorder Recorder

	// now is replaceable in tests.
	now func() time.Time
}

// New creates an empty Timings. The recorder may be nil.
func New(recorder Recorder) *Timings {
	return &Timings{
		recorder: recorder,
		now:      time.Now,
	}
}

// Start opens a new stopwatch stamped with the current time and appends it.
//
// Phases are bracketed sequentially, so the new entry becomes the only
// in-flight entry at the tail. previous may be nil.
func (t *Timings) Start(event string, annotations map[string]any, previous *Stopwatch) *Stopwatch {
	ann := make(map[string]any, len(annotations))
	for k, v := range annotations {
		ann[k] = v
	}

	sw := &Stopwatch{
		Event:       event,
		Annotations: ann,
		Previous:    previous,
		owner:       t,
	}

	t.mu.Lock()
	sw.Start = t.now()
	t.entries = append(t.entries, sw)
	t.mu.Unlock()

	return sw
}

// Time brackets fn with a stopwatch named event.
//
// The stop time is stamped on every exit path. If fn returns an error (or
// panics) the stopwatch is marked failed; the error is returned unchanged and
// a panic is re-raised. Cancellation is not a failure.
func (t *Timings) Time(event string, annotations map[string]any, previous *Stopwatch, fn func(sw *Stopwatch) error) (err error) {
	sw := t.Start(event, annotations, previous)
	finished := false
	defer func() {
		if finished {
			return
		}
		// fn panicked
		sw.Stop(errPanicked)
	}()

	err = fn(sw)
	finished = true
	sw.Stop(err)
	return err
}

// Len returns the number of stopwatches recorded so far.
func (t *Timings) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the most recently started stopwatch, or nil.
func (t *Timings) Last() *Stopwatch {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return nil
	}
	return t.entries[len(t.entries)-1]
}

// Dump returns one record per stopwatch in insertion order.
func (t *Timings) Dump() []StopwatchData {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]StopwatchData, 0, len(t.entries))
	for _, sw := range t.entries {
		result = append(result, sw.dataLocked())
	}
	return result
}

// Stop stamps the completion time. A non-nil err marks the stopwatch failed
// unless it is context.Canceled.
//
// Only the first call has any effect; a finished stopwatch is never mutated.
func (s *Stopwatch) Stop(err error) {
	t := s.owner
	t.mu.Lock()
	if !s.stop.IsZero() {
		t.mu.Unlock()
		return
	}
	s.stop = t.now()
	s.failed = err != nil && !errors.Is(err, context.Canceled)
	elapsed := s.stop.Sub(s.Start)
	failed := s.failed
	t.mu.Unlock()

	if t.recorder != nil {
		t.recorder.RecordLatency(elapsed, s.Event, !failed, 0)
	}
}

// StopTime returns the stop timestamp and whether it has been set.
func (s *Stopwatch) StopTime() (time.Time, bool) {
	s.owner.mu.RLock()
	defer s.owner.mu.RUnlock()
	return s.stop, !s.stop.IsZero()
}

// Elapsed returns stop − start, or false while the stopwatch is running.
func (s *Stopwatch) Elapsed() (time.Duration, bool) {
	s.owner.mu.RLock()
	defer s.owner.mu.RUnlock()
	if s.stop.IsZero() {
		return 0, false
	}
	return s.stop.Sub(s.Start), true
}

// Failed reports whether the bracketed work returned an error.
func (s *Stopwatch) Failed() bool {
	s.owner.mu.RLock()
	defer s.owner.mu.RUnlock()
	return s.failed
}

// Gap returns the idle time between the previous phase's stop and this
// phase's start. It is informational and does not affect Elapsed.
func (s *Stopwatch) Gap() (time.Duration, bool) {
	if s.Previous == nil {
		return 0, false
	}
	prevStop, ok := s.Previous.StopTime()
	if !ok {
		return 0, false
	}
	return s.Start.Sub(prevStop), true
}

func (s *Stopwatch) dataLocked() StopwatchData {
	data := StopwatchData{
		Event:       s.Event,
		Annotations: s.Annotations,
		Start:       s.Start,
		Failed:      s.failed,
	}
	if !s.stop.IsZero() {
		stop := s.stop
		elapsed := s.stop.Sub(s.Start).Seconds()
		data.Stop = &stop
		data.Elapsed = &elapsed
	}
	return data
}

// StopwatchData is the serializable form of a Stopwatch.
type StopwatchData struct {
	Event       string         `json:"event"`
	Annotations map[string]any `json:"annotations"`
	Start       time.Time      `json:"start"`
	Stop        *time.Time     `json:"stop"`
	Elapsed     *float64       `json:"elapsed"` // seconds
	Failed      bool           `json:"failed"`
}
