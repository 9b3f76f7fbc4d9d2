package flock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/mobu/internal/business"
	"github.com/wesleyorama2/mobu/internal/config"
	"github.com/wesleyorama2/mobu/internal/identity"
	"github.com/wesleyorama2/mobu/internal/monkey"
)

var errTAP = errors.New("tap unavailable")

type queryClient struct {
	fail bool
}

func (q queryClient) Authenticate(context.Context) error { return nil }

func (q queryClient) Query(context.Context, string) (int, error) {
	if q.fail {
		return 0, errTAP
	}
	return 1, nil
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, identity.Request) (identity.User, error) {
	return identity.User{}, errors.New("token service down")
}

func idleConfig(name string, count int) Config {
	return Config{
		Name:     name,
		Count:    count,
		UserSpec: identity.Template{UsernamePrefix: "bot-mobu-" + name, UIDStart: 1000},
		Business: business.Spec{
			Kind:    business.KindIdle,
			Options: business.Options{IdleTime: config.Duration(time.Millisecond)},
		},
	}
}

func testDeps() Deps {
	return Deps{
		Issuer: identity.StaticIssuer{Token: "tok"},
		Logger: zerolog.Nop(),
		Env: business.Environment{
			Query: func(u identity.User, _ zerolog.Logger) business.QueryClient {
				return queryClient{fail: strings.HasSuffix(u.Username, "02")}
			},
		},
	}
}

func newTestFlock(t *testing.T, cfg Config) *Flock {
	t.Helper()
	f, err := New(context.Background(), cfg, testDeps())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { f.Stop(context.Background()) })
	return f
}

func countState(f *Flock, state monkey.State) int {
	n := 0
	for _, m := range f.Monkeys() {
		if m.State() == state {
			n++
		}
	}
	return n
}

func TestNew_BuildsMembers(t *testing.T) {
	f := newTestFlock(t, idleConfig("idle", 3))

	monkeys := f.Monkeys()
	if len(monkeys) != 3 {
		t.Fatalf("len(Monkeys()) = %d, want 3", len(monkeys))
	}
	want := []string{"bot-mobu-idle01", "bot-mobu-idle02", "bot-mobu-idle03"}
	for i, m := range monkeys {
		if m.Name() != want[i] {
			t.Errorf("monkeys[%d] = %s, want %s", i, m.Name(), want[i])
		}
		if m.State() != monkey.StateCreated {
			t.Errorf("%s state = %v before Start", m.Name(), m.State())
		}
		if m.User().Token != "tok" {
			t.Errorf("%s token = %q", m.Name(), m.User().Token)
		}
	}
	if _, ok := f.Monkey("bot-mobu-idle02"); !ok {
		t.Error("Monkey() lookup failed")
	}
	if f.StartedAt() != nil {
		t.Error("StartedAt() should be nil before Start")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := idleConfig("", 0)
		_, err := New(context.Background(), cfg, testDeps())
		var verrs *config.ValidationErrors
		if !errors.As(err, &verrs) {
			t.Fatalf("New() = %v, want *config.ValidationErrors", err)
		}
	})

	t.Run("issuer failure", func(t *testing.T) {
		deps := testDeps()
		deps.Issuer = failingIssuer{}
		_, err := New(context.Background(), idleConfig("idle", 2), deps)
		if err == nil || !strings.Contains(err.Error(), "token service down") {
			t.Errorf("New() = %v, want issuer error", err)
		}
	})

	t.Run("missing client", func(t *testing.T) {
		cfg := idleConfig("login", 1)
		cfg.Business.Kind = business.KindJupyterLoginLoop
		if _, err := New(context.Background(), cfg, testDeps()); err == nil {
			t.Error("New() expected error without a notebook client")
		}
	})
}

func TestStart_BatchingIsEnforced(t *testing.T) {
	cfg := idleConfig("batch", 10)
	cfg.StartBatchSize = 3
	cfg.StartBatchWait = config.Duration(time.Second)
	f := newTestFlock(t, cfg)

	begin := time.Now()
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if running := countState(f, monkey.StateRunning); running != 3 {
		t.Errorf("running after first batch = %d, want 3", running)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.WaitStarted(ctx); err != nil {
		t.Fatalf("WaitStarted() error = %v", err)
	}

	// ceil(10/3) batches with three waits between them.
	if elapsed := time.Since(begin); elapsed < 3*time.Second {
		t.Errorf("start-up took %v, want at least 3s", elapsed)
	}
	if running := countState(f, monkey.StateRunning); running != 10 {
		t.Errorf("running = %d, want 10", running)
	}
}

func TestStart_NotIdempotent(t *testing.T) {
	f := newTestFlock(t, idleConfig("twice", 1))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
}

func TestStart_StampsStartTime(t *testing.T) {
	f := newTestFlock(t, idleConfig("stamp", 1))
	fixed := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := f.StartedAt(); got == nil || !got.Equal(fixed) {
		t.Errorf("StartedAt() = %v, want %v", got, fixed)
	}
	if !strings.Contains(f.Summarize().StatusLine(), "started 2024-03-05") {
		t.Errorf("StatusLine() = %q", f.Summarize().StatusLine())
	}
}

func TestStart_OutlivesCallerContext(t *testing.T) {
	f := newTestFlock(t, idleConfig("detached", 2))
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.Start(ctx); err != nil {
		t.Fatal(err)
	}
	f.WaitStarted(context.Background())
	cancel()

	time.Sleep(50 * time.Millisecond)
	if running := countState(f, monkey.StateRunning); running != 2 {
		t.Errorf("running = %d after caller ctx canceled, want 2", running)
	}
}

func TestStop_CancelsPendingBatches(t *testing.T) {
	cfg := idleConfig("pending", 4)
	cfg.StartBatchSize = 1
	cfg.StartBatchWait = config.Duration(time.Hour)
	f := newTestFlock(t, cfg)

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	begin := time.Now()
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Errorf("Stop() took %v", elapsed)
	}
	if stopped := countState(f, monkey.StateStopped); stopped != 4 {
		t.Errorf("stopped = %d, want 4", stopped)
	}
	// Only the first batch ever ran.
	ran := 0
	for _, m := range f.Monkeys() {
		if m.Business().SuccessCount() > 0 {
			ran++
		}
	}
	if ran > 1 {
		t.Errorf("%d monkeys ran, pending batches should never start", ran)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	f := newTestFlock(t, idleConfig("never", 2))
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stopped := countState(f, monkey.StateStopped); stopped != 2 {
		t.Errorf("stopped = %d, want 2", stopped)
	}
}

func TestFailureIsolation(t *testing.T) {
	cfg := Config{
		Name:     "tap",
		Count:    3,
		UserSpec: identity.Template{UsernamePrefix: "bot", UIDStart: 1},
		Business: business.Spec{
			Kind:    business.KindTAPQueryRunner,
			Options: business.Options{QueryInterval: config.Duration(time.Millisecond)},
		},
	}
	f := newTestFlock(t, cfg)
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	failing, _ := f.Monkey("bot02")
	select {
	case <-failing.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bot02 did not fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.Summarize().SuccessCount < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if failing.State() != monkey.StateFailed {
		t.Errorf("bot02 state = %v, want failed", failing.State())
	}
	for _, name := range []string{"bot01", "bot03"} {
		m, _ := f.Monkey(name)
		if m.State() != monkey.StateRunning {
			t.Errorf("%s state = %v, siblings must keep running", name, m.State())
		}
	}

	s := f.Summarize()
	if s.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", s.FailureCount)
	}
	if s.SuccessCount < 10 {
		t.Errorf("SuccessCount = %d, want >= 10", s.SuccessCount)
	}

	if err := f.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestDetail(t *testing.T) {
	f := newTestFlock(t, idleConfig("detail", 2))
	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for f.Summarize().SuccessCount < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	d := f.Detail()
	if d.Config.Name != "detail" || len(d.Monkeys) != 2 {
		t.Errorf("Detail() = %+v", d)
	}
	if d.Monkeys[0].Business.Name != business.KindIdle {
		t.Errorf("business name = %s", d.Monkeys[0].Business.Name)
	}
	if d.Phases["idle"].Count == 0 {
		t.Errorf("idle phase not recorded: %+v", d.Phases)
	}
	if d.Overall == nil || d.Overall.TotalEvents < d.Phases["idle"].Count {
		t.Errorf("overall snapshot = %+v", d.Overall)
	}

	stats := f.Stats()
	if stats.Monkeys != 2 || stats.Business != "Idle" {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestStop_InterruptedPhasesAreNotFailures(t *testing.T) {
	cfg := idleConfig("calm", 2)
	cfg.Business.Options.IdleTime = config.Duration(time.Hour)
	f := newTestFlock(t, cfg)

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.WaitStarted(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := f.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	d := f.Detail()
	if got := countState(f, monkey.StateStopped); got != 2 {
		t.Errorf("stopped monkeys = %d, want 2", got)
	}
	idle := d.Phases["idle"]
	if idle.Count != 2 || idle.Failures != 0 {
		t.Errorf("idle phase = %+v, want 2 events and no failures", idle)
	}
	if d.Overall == nil || d.Overall.FailedEvents != 0 {
		t.Errorf("overall snapshot = %+v, want no failed events", d.Overall)
	}
	if d.Summary.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", d.Summary.FailureCount)
	}
}
