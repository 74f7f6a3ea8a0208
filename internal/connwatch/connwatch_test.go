package connwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// testBackoff returns a fast backoff config for tests.
func testBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

type change struct {
	ready bool
	err   error
}

// changes returns an OnChange callback and the channel it feeds.
func changes() (func(bool, error), <-chan change) {
	ch := make(chan change, 64)
	return func(ready bool, err error) {
		select {
		case ch <- change{ready, err}:
		default:
		}
	}, ch
}

func waitChange(t *testing.T, ch <-chan change) change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state change")
		return change{}
	}
}

func TestDefaultBackoffConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultBackoffConfig()

	if cfg.InitialDelay != time.Second {
		t.Errorf("InitialDelay = %v, want 1s", cfg.InitialDelay)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.MaxDelay)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}

	filled := BackoffConfig{PollInterval: time.Minute}.withDefaults()
	if filled.PollInterval != time.Minute || filled.ProbeTimeout != 10*time.Second {
		t.Errorf("withDefaults = %+v", filled)
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onChange, ch := changes()
	m := NewManager(slog.Default())
	w := m.Watch(ctx, WatcherConfig{
		Name:     "vending_machine",
		Probe:    func(context.Context) error { return nil },
		Backoff:  testBackoff(),
		OnChange: onChange,
	})

	if c := waitChange(t, ch); !c.ready || c.err != nil {
		t.Fatalf("first change = %+v, want ready", c)
	}
	if !w.IsReady() {
		t.Error("IsReady() = false after successful probe")
	}

	// Further successful polls are not transitions.
	time.Sleep(30 * time.Millisecond)
	select {
	case c := <-ch:
		t.Errorf("unexpected change %+v", c)
	default:
	}
	if s := w.Status(); s.Checks < 2 || s.LastError != "" {
		t.Errorf("Status = %+v", s)
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	probe := func(context.Context) error {
		if attempts.Add(1) <= 3 {
			return errors.New("spawn failed")
		}
		return nil
	}

	onChange, ch := changes()
	m := NewManager(nil)
	m.Watch(ctx, WatcherConfig{Name: "epalette", Probe: probe, Backoff: testBackoff(), OnChange: onChange})

	if c := waitChange(t, ch); !c.ready {
		t.Fatalf("change = %+v, want ready", c)
	}
	if n := attempts.Load(); n != 4 {
		t.Errorf("attempts = %d, want 4", n)
	}
}

func TestWatcher_ExhaustsRetriesThenRecovers(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errDown := errors.New("down")
	var failing atomic.Bool
	failing.Store(true)
	probe := func(context.Context) error {
		if failing.Load() {
			return errDown
		}
		return nil
	}

	bcfg := testBackoff()
	bcfg.MaxRetries = 2

	onChange, ch := changes()
	m := NewManager(nil)
	w := m.Watch(ctx, WatcherConfig{Name: "city_database", Probe: probe, Backoff: bcfg, OnChange: onChange})

	c := waitChange(t, ch)
	if c.ready || !errors.Is(c.err, errDown) {
		t.Fatalf("change = %+v, want down with errDown", c)
	}
	if w.Status().LastError != "down" {
		t.Errorf("LastError = %q", w.Status().LastError)
	}

	failing.Store(false)
	if c := waitChange(t, ch); !c.ready {
		t.Fatalf("change = %+v, want recovery", c)
	}
	if !w.IsReady() {
		t.Error("IsReady() = false after recovery")
	}
}

func TestWatcher_ServerGoesDown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failing atomic.Bool
	probe := func(context.Context) error {
		if failing.Load() {
			return errors.New("broken pipe")
		}
		return nil
	}

	onChange, ch := changes()
	m := NewManager(nil)
	w := m.Watch(ctx, WatcherConfig{Name: "auth", Probe: probe, Backoff: testBackoff(), OnChange: onChange})

	waitChange(t, ch)
	failing.Store(true)

	c := waitChange(t, ch)
	if c.ready || c.err == nil || c.err.Error() != "broken pipe" {
		t.Fatalf("change = %+v, want down", c)
	}
	if w.IsReady() {
		t.Error("IsReady() = true after server went down")
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bcfg := testBackoff()
	bcfg.ProbeTimeout = 5 * time.Millisecond
	bcfg.MaxRetries = 1

	onChange, ch := changes()
	m := NewManager(nil)
	m.Watch(ctx, WatcherConfig{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff:  bcfg,
		OnChange: onChange,
	})

	c := waitChange(t, ch)
	if c.ready || !errors.Is(c.err, context.DeadlineExceeded) {
		t.Errorf("change = %+v, want deadline exceeded", c)
	}
}

func TestWatcher_Stop(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	w := m.Watch(context.Background(), WatcherConfig{
		Name:    "stop",
		Probe:   func(context.Context) error { return errors.New("down") },
		Backoff: testBackoff(),
	})

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWatcher_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	m := NewManager(nil)
	w := m.Watch(ctx, WatcherConfig{
		Name:    "cancel",
		Probe:   func(context.Context) error { return errors.New("down") },
		Backoff: testBackoff(),
	})
	cancel()

	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

type fakePinger struct {
	name string
	err  error
}

func (f fakePinger) Name() string { return f.name }
func (f fakePinger) Ping(context.Context) error { return f.err }

func TestManager_WatchPingerAndStatus(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type named struct {
		name  string
		ready bool
	}
	got := make(chan named, 8)
	onChange := func(name string, ready bool, _ error) { got <- named{name, ready} }

	bcfg := testBackoff()
	bcfg.MaxRetries = 1

	m := NewManager(nil)
	m.WatchPinger(ctx, fakePinger{name: "vending_machine"}, bcfg, onChange)
	m.WatchPinger(ctx, fakePinger{name: "auth", err: errors.New("unreachable")}, bcfg, onChange)

	seen := map[string]bool{}
	for range 2 {
		select {
		case n := <-got:
			seen[n.name] = n.ready
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for changes")
		}
	}
	if !seen["vending_machine"] || seen["auth"] {
		t.Errorf("changes = %v", seen)
	}

	status := m.Status()
	if len(status) != 2 {
		t.Fatalf("len(Status()) = %d, want 2", len(status))
	}
	if status[0].Name != "auth" || status[1].Name != "vending_machine" {
		t.Errorf("Status not sorted: %s, %s", status[0].Name, status[1].Name)
	}
	if status[0].Ready || status[0].LastError != "unreachable" {
		t.Errorf("auth status = %+v", status[0])
	}
	if m.Ready() {
		t.Error("Ready() = true with a down server")
	}

	m.Stop()
}

func TestManager_WatchReplaces(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewManager(nil)
	first := m.Watch(ctx, WatcherConfig{Name: "x", Probe: func(context.Context) error { return nil }, Backoff: testBackoff()})
	m.Watch(ctx, WatcherConfig{Name: "x", Probe: func(context.Context) error { return nil }, Backoff: testBackoff()})

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("replaced watcher still running")
	}
	if n := len(m.Status()); n != 1 {
		t.Errorf("len(Status()) = %d, want 1", n)
	}
	m.Stop()
}

func TestManager_WatchPanicsOnBadConfig(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)
	for name, cfg := range map[string]WatcherConfig{
		"no name":  {Probe: func(context.Context) error { return nil }},
		"no probe": {Name: "x"},
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Watch did not panic")
				}
			}()
			m.Watch(context.Background(), cfg)
		})
	}
}
