package timings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock returns a deterministic, monotonically increasing time source.
func fakeClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

type recordedLatency struct {
	name    string
	d       time.Duration
	success bool
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedLatency
}

func (r *fakeRecorder) RecordLatency(d time.Duration, name string, success bool, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, recordedLatency{name: name, d: d, success: success})
}

func TestStopwatch_ElapsedIsStopMinusStart(t *testing.T) {
	tm := New(nil)
	tm.now = fakeClock(250 * time.Millisecond)

	sw := tm.Start("login", nil, nil)
	if _, ok := sw.Elapsed(); ok {
		t.Fatal("Elapsed() reported a value before Stop()")
	}

	sw.Stop(nil)
	stop, ok := sw.StopTime()
	if !ok {
		t.Fatal("StopTime() not set after Stop()")
	}
	elapsed, ok := sw.Elapsed()
	if !ok {
		t.Fatal("Elapsed() not available after Stop()")
	}
	if elapsed != stop.Sub(sw.Start) {
		t.Errorf("Elapsed() = %v, want %v", elapsed, stop.Sub(sw.Start))
	}
	if elapsed != 250*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 250ms", elapsed)
	}
}

func TestStopwatch_StopIsFinal(t *testing.T) {
	tm := New(nil)
	tm.now = fakeClock(time.Second)

	sw := tm.Start("phase", nil, nil)
	sw.Stop(nil)
	first, _ := sw.StopTime()

	sw.Stop(errors.New("late failure"))
	second, _ := sw.StopTime()

	if !first.Equal(second) {
		t.Errorf("stop time changed after finalization: %v -> %v", first, second)
	}
	if sw.Failed() {
		t.Error("failed flag changed after finalization")
	}
}

func TestTime_FailurePropagatesAndMarksFailed(t *testing.T) {
	tm := New(nil)
	boom := errors.New("boom")

	err := tm.Time("execute_code", map[string]any{"node": "nb1"}, nil, func(*Stopwatch) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Time() error = %v, want %v", err, boom)
	}

	sw := tm.Last()
	if !sw.Failed() {
		t.Error("Failed() = false, want true")
	}
	if _, ok := sw.StopTime(); !ok {
		t.Error("stop time not set on failure path")
	}
}

func TestTime_CancellationIsNotAFailure(t *testing.T) {
	rec := &fakeRecorder{}
	tm := New(rec)

	err := tm.Time("idle", nil, nil, func(*Stopwatch) error {
		return fmt.Errorf("sleep interrupted: %w", context.Canceled)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Time() error = %v, want context.Canceled", err)
	}

	sw := tm.Last()
	if sw.Failed() {
		t.Error("Failed() = true for a cancelled phase")
	}
	if _, ok := sw.StopTime(); !ok {
		t.Error("stop time not set on cancellation path")
	}
	if len(rec.records) != 1 || !rec.records[0].success {
		t.Errorf("recorded %+v, want one successful record", rec.records)
	}
}

func TestTime_PanicStillStops(t *testing.T) {
	tm := New(nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = tm.Time("explode", nil, nil, func(*Stopwatch) error {
			panic("kaboom")
		})
	}()

	sw := tm.Last()
	if _, ok := sw.StopTime(); !ok {
		t.Error("stop time not set after panic")
	}
	if !sw.Failed() {
		t.Error("Failed() = false after panic, want true")
	}
}

func TestDump_InsertionOrderAndInFlight(t *testing.T) {
	tm := New(nil)
	tm.now = fakeClock(time.Second)

	events := []string{"hub_login", "create_session", "execute_code"}
	for _, ev := range events[:2] {
		if err := tm.Time(ev, nil, nil, func(*Stopwatch) error { return nil }); err != nil {
			t.Fatalf("Time(%s) error = %v", ev, err)
		}
	}
	tm.Start(events[2], map[string]any{"cell": 3}, tm.Last())

	dump := tm.Dump()
	if len(dump) != len(events) {
		t.Fatalf("Dump() len = %d, want %d", len(dump), len(events))
	}
	for i, ev := range events {
		if dump[i].Event != ev {
			t.Errorf("Dump()[%d].Event = %q, want %q", i, dump[i].Event, ev)
		}
	}

	for i := 0; i < 2; i++ {
		if dump[i].Stop == nil || dump[i].Elapsed == nil {
			t.Errorf("Dump()[%d] missing stop/elapsed", i)
		}
	}

	last := dump[2]
	if last.Stop != nil || last.Elapsed != nil || last.Failed {
		t.Errorf("in-flight entry = %+v, want stop=nil elapsed=nil failed=false", last)
	}
	if last.Annotations["cell"] != 3 {
		t.Errorf("annotations = %v, want cell=3", last.Annotations)
	}
}

func TestStopwatch_Gap(t *testing.T) {
	tm := New(nil)
	tm.now = fakeClock(time.Second)

	first := tm.Start("create_session", nil, nil) // t=1s
	first.Stop(nil)                               // t=2s
	second := tm.Start("delete_session", nil, first)

	gap, ok := second.Gap()
	if !ok {
		t.Fatal("Gap() not available")
	}
	if gap != time.Second {
		t.Errorf("Gap() = %v, want 1s", gap)
	}

	if _, ok := first.Gap(); ok {
		t.Error("Gap() available without previous")
	}
}

func TestAnnotationsAreCopied(t *testing.T) {
	tm := New(nil)
	ann := map[string]any{"notebook": "a.ipynb"}
	sw := tm.Start("execute_cell", ann, nil)
	ann["notebook"] = "b.ipynb"

	if sw.Annotations["notebook"] != "a.ipynb" {
		t.Errorf("annotations aliased caller map: %v", sw.Annotations)
	}
}

func TestRecorderReceivesFinishedStopwatches(t *testing.T) {
	rec := &fakeRecorder{}
	tm := New(rec)
	tm.now = fakeClock(10 * time.Millisecond)

	_ = tm.Time("ok", nil, nil, func(*Stopwatch) error { return nil })
	_ = tm.Time("bad", nil, nil, func(*Stopwatch) error { return errors.New("x") })
	tm.Start("running", nil, nil)

	if len(rec.records) != 2 {
		t.Fatalf("recorder got %d records, want 2", len(rec.records))
	}
	if rec.records[0].name != "ok" || !rec.records[0].success {
		t.Errorf("first record = %+v", rec.records[0])
	}
	if rec.records[1].name != "bad" || rec.records[1].success {
		t.Errorf("second record = %+v", rec.records[1])
	}
	if rec.records[0].d != 10*time.Millisecond {
		t.Errorf("recorded duration = %v, want 10ms", rec.records[0].d)
	}
}

func TestConcurrentDumpDuringWrites(t *testing.T) {
	tm := New(nil)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			_ = tm.Time("tick", nil, tm.Last(), func(*Stopwatch) error { return nil })
		}
	}()

	for {
		select {
		case <-done:
			if tm.Len() != 500 {
				t.Errorf("Len() = %d, want 500", tm.Len())
			}
			return
		default:
			_ = tm.Dump()
		}
	}
}
