// Package connwatch watches the health of configured MCP servers.
//
// A Watcher probes one server in two phases. At startup it retries with
// exponential backoff until the server answers or the retries run out.
// After that it polls at a fixed interval and reports each transition
// between ready and down. Probing goes through the normal client path,
// so a probe of a dead server also respawns it.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a server is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Pinger is anything that can probe itself, such as a toolkit.
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the delay before the first startup retry (default 1s).
	InitialDelay time.Duration

	// MaxDelay caps backoff growth (default 30s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default 2.0).
	Multiplier float64

	// MaxRetries is the number of startup probes (default 5).
	MaxRetries int

	// PollInterval is the background check interval (default 30s).
	PollInterval time.Duration

	// ProbeTimeout bounds each probe (default 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 1s, 2s, 4s, 8s startup retries and
// 30-second polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultBackoffConfig.
func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// WatcherConfig configures a single server watcher.
type WatcherConfig struct {
	// Name identifies the server in logs and status.
	Name string

	// Probe checks server health. Must be safe for concurrent use.
	Probe ProbeFunc

	Backoff BackoffConfig

	// OnChange is called on every transition, including the first
	// successful startup probe and the end of a failed startup. It runs
	// on the watcher goroutine, in order, and must not block for long.
	// Optional.
	OnChange func(ready bool, err error)

	// Logger uses slog.Default() if nil.
	Logger *slog.Logger
}

// ServerStatus is the health of a watched server, as served by
// /v1/health.
type ServerStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	Checks    int64     `json:"checks"`
}

// Watcher monitors one server.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	checks atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the server answered its last probe.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// Status returns the current health status.
func (w *Watcher) Status() ServerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServerStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
		Checks:    w.checks.Load(),
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	logger := w.config.Logger

	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			logger.Info("MCP server ready", "after_attempts", attempt)
			w.transition(true, nil)
			break
		}
		if attempt == cfg.MaxRetries {
			logger.Warn("MCP server not ready after startup retries, polling",
				"attempts", attempt,
				"error", err,
			)
			w.transition(false, err)
			break
		}

		logger.Debug("startup probe failed",
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			wasReady := w.ready.Load()
			switch {
			case wasReady && err != nil:
				logger.Warn("MCP server became unreachable", "error", err)
				w.transition(false, err)
			case !wasReady && err == nil:
				logger.Info("MCP server recovered")
				w.transition(true, nil)
			case err != nil:
				logger.Debug("MCP server still unreachable", "error", err)
			}
		}
	}
}

func (w *Watcher) transition(ready bool, err error) {
	w.ready.Store(ready)
	if w.config.OnChange != nil {
		w.config.OnChange(ready, err)
	}
}

// probe runs the ProbeFunc under the probe timeout and records the
// outcome.
func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()

	err := w.config.Probe(probeCtx)
	w.checks.Add(1)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager coordinates the watchers of all servers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. An empty Name or nil Probe is a programming error and panics.
// A second watcher with the same name replaces the first, which is
// stopped.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Logger = cfg.Logger.With("mcp_server", cfg.Name)
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	old := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(watchCtx)
	return w
}

// WatchPinger watches p using its own Ping as the probe.
func (m *Manager) WatchPinger(ctx context.Context, p Pinger, backoff BackoffConfig, onChange func(name string, ready bool, err error)) *Watcher {
	name := p.Name()
	cfg := WatcherConfig{Name: name, Probe: p.Ping, Backoff: backoff}
	if onChange != nil {
		cfg.OnChange = func(ready bool, err error) { onChange(name, ready, err) }
	}
	return m.Watch(ctx, cfg)
}

// Status returns every watched server's status, sorted by name.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched server is ready.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
