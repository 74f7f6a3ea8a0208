// Package toolkit exposes city MCP servers as named tools for an
// external agent.
//
// Each toolkit wraps one MCP client. Its methods are blocking calls that
// always return a string: the server's text on success, or a message
// starting with "❌" on any failure. Structured errors from the mcp
// package stay structured up to this point and are flattened here,
// nowhere earlier. Calls run on a [bridge.Bridge] worker so a toolkit can
// be used from plain goroutines and from inside other bridged calls
// alike.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/nugget/city-bridge/internal/bridge"
	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/devices"
	"github.com/nugget/city-bridge/internal/mcp"
	"github.com/nugget/city-bridge/internal/tools"
)

// FailureMarker prefixes every failure string returned to callers.
const FailureMarker = "❌"

// Toolkit is one registered MCP server.
type Toolkit interface {
	// Name is the toolkit name recorded with each invocation.
	Name() string

	// Register adds the toolkit's tools to reg and reports how many.
	Register(ctx context.Context, reg *tools.Registry) (int, error)

	// Ping checks that the server answers tools/list.
	Ping(ctx context.Context) error

	// Close stops the server process. It never fails.
	Close() error
}

// Invocation describes one finished toolkit call.
type Invocation struct {
	Toolkit  string
	Tool     string
	Caller   string
	Args     map[string]any
	Result   string // the string handed back to the caller
	Err      error  // the structured error, nil on success
	Started  time.Time
	Duration time.Duration
}

// OK reports whether the call succeeded.
func (inv Invocation) OK() bool { return inv.Err == nil }

// Observer is notified after every toolkit call. Implementations must
// not block for long; they run on the caller's goroutine.
type Observer interface {
	ObserveInvocation(ctx context.Context, inv Invocation)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, inv Invocation)

func (f ObserverFunc) ObserveInvocation(ctx context.Context, inv Invocation) { f(ctx, inv) }

// Config is shared by all toolkit constructors.
type Config struct {
	// Name overrides the toolkit name. Defaults to the kind's own name.
	Name string

	// Bridge runs the calls. Nil gives the toolkit a private bridge that
	// it closes with the toolkit.
	Bridge *bridge.Bridge

	Observers []Observer
	Logger    *slog.Logger
}

// ArgumentError reports a missing or malformed tool argument.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return e.Name + " " + e.Reason
}

// Flatten renders err as the failure string for action (for example
// "getting products"). MCP and argument errors show their message;
// anything else is reported as unexpected.
func Flatten(action string, err error) string {
	var me *mcp.Error
	if errors.As(err, &me) {
		return fmt.Sprintf("%s Error %s: %s", FailureMarker, action, me.Message)
	}
	var ae *ArgumentError
	if errors.As(err, &ae) {
		return fmt.Sprintf("%s Error %s: %s", FailureMarker, action, ae.Error())
	}
	return fmt.Sprintf("%s Unexpected error %s: %v", FailureMarker, action, err)
}

// adapter is the machinery shared by every toolkit.
type adapter struct {
	name      string
	client    *mcp.Client
	bridge    *bridge.Bridge
	ownBridge bool
	observers []Observer
	logger    *slog.Logger
	closeOnce sync.Once
}

// closers are released by the GC cleanup when an adapter is dropped
// without Close. They must not reference the adapter.
type closers struct {
	client *mcp.Client
	bridge *bridge.Bridge
}

// release stops the process and bridge on a new goroutine, since both
// may block and cleanups share one runtime goroutine. The returned
// channel closes when they have stopped.
func (c closers) release() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.client.Close()
		if c.bridge != nil {
			c.bridge.Close()
		}
	}()
	return done
}

func newAdapter(defaultName string, client *mcp.Client, cfg Config) *adapter {
	name := cfg.Name
	if name == "" {
		name = defaultName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &adapter{
		name:      name,
		client:    client,
		bridge:    cfg.Bridge,
		observers: cfg.Observers,
		logger:    logger.With("toolkit", name),
	}
	if a.bridge == nil {
		a.bridge = bridge.New(bridge.Config{Name: name, Logger: logger})
		a.ownBridge = true
	}

	c := closers{client: client}
	if a.ownBridge {
		c.bridge = a.bridge
	}
	runtime.AddCleanup(a, func(c closers) { c.release() }, c)

	return a
}

func (a *adapter) Name() string { return a.name }

// Client returns the underlying MCP client.
func (a *adapter) Client() *mcp.Client { return a.client }

func (a *adapter) Ping(ctx context.Context) error { return a.client.Ping(ctx) }

// Close stops the server process and, if the toolkit owns it, the
// bridge. Errors are logged and swallowed.
func (a *adapter) Close() error {
	a.closeOnce.Do(func() {
		if err := a.client.Close(); err != nil {
			a.logger.Debug("closing MCP client", "error", err)
		}
		if a.ownBridge {
			a.bridge.Close()
		}
	})
	return nil
}

// invoke runs fn on the bridge, notifies observers, and flattens any
// error into a failure string for action.
func (a *adapter) invoke(ctx context.Context, tool, action string, args map[string]any, fn bridge.Func) string {
	start := time.Now()
	text, err := a.bridge.Run(ctx, fn)
	if err != nil {
		text = Flatten(action, err)
		var me *mcp.Error
		if errors.As(err, &me) {
			a.logger.Error("MCP error "+action, "tool", tool, "kind", me.Kind.String(), "error", me.Message)
		} else {
			a.logger.Error("unexpected error "+action, "tool", tool, "error", err)
		}
	}

	a.notify(ctx, Invocation{
		Toolkit:  a.name,
		Tool:     tool,
		Caller:   tools.CallerFromContext(ctx),
		Args:     args,
		Result:   text,
		Err:      err,
		Started:  start,
		Duration: time.Since(start),
	})
	return text
}

// reject reports an argument error without reaching the server.
func (a *adapter) reject(ctx context.Context, tool, action string, args map[string]any, err error) string {
	text := Flatten(action, err)
	a.notify(ctx, Invocation{
		Toolkit: a.name,
		Tool:    tool,
		Caller:  tools.CallerFromContext(ctx),
		Args:    args,
		Result:  text,
		Err:     err,
		Started: time.Now(),
	})
	return text
}

func (a *adapter) notify(ctx context.Context, inv Invocation) {
	tools.OutcomeFromContext(ctx).Fail(inv.Err)
	for _, o := range a.observers {
		o.ObserveInvocation(ctx, inv)
	}
}

// call is the common case: one MCP tool with fixed arguments.
func (a *adapter) call(ctx context.Context, tool, action string, args map[string]any) string {
	return a.invoke(ctx, tool, action, args, func(ctx context.Context) (string, error) {
		return a.client.CallTool(ctx, tool, args)
	})
}

// register adds defs to reg as tools of this toolkit. A name already
// registered by another toolkit is an error.
func (a *adapter) register(reg *tools.Registry, defs []*tools.Tool) (int, error) {
	for _, t := range defs {
		if existing := reg.Get(t.Name); existing != nil && existing.Toolkit != a.name {
			return 0, fmt.Errorf("tool %q already registered by toolkit %q", t.Name, existing.Toolkit)
		}
	}
	for _, t := range defs {
		t.Toolkit = a.name
		reg.Register(t)
	}
	a.logger.Info("toolkit registered", "tools", len(defs))
	return len(defs), nil
}

// New builds the toolkit for a configured server.
func New(sc config.ServerConfig, cfg Config) (Toolkit, error) {
	if cfg.Name == "" {
		cfg.Name = sc.Name
	}
	opts := devices.OptionsFromConfig(sc, cfg.Logger)

	switch sc.Kind {
	case config.KindVending:
		return NewVending(devices.NewVendingMachine(opts), cfg), nil
	case config.KindEPalette:
		return NewEPalette(devices.NewEPalette(opts), cfg), nil
	case config.KindCityDB:
		return NewCityDB(devices.NewCityDatabase(opts), cfg), nil
	case config.KindAuth:
		return NewAuth(devices.NewAuth(opts), cfg), nil
	case config.KindGeneric, "":
		client := devices.NewClient(sc.Name, nil, opts)
		return NewDiscovered(client, DiscoveredConfig{
			Config:  cfg,
			Include: sc.IncludeTools,
			Exclude: sc.ExcludeTools,
		}), nil
	default:
		return nil, fmt.Errorf("server %s: unknown kind %q", sc.Name, sc.Kind)
	}
}

// noArgs adapts a parameterless toolkit method to a registry handler.
func noArgs(fn func(context.Context) string) func(context.Context, map[string]any) (string, error) {
	return func(ctx context.Context, _ map[string]any) (string, error) { return fn(ctx), nil }
}

// Argument helpers for registry handlers. JSON numbers arrive as
// float64.

func requiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", &ArgumentError{Name: key, Reason: "is required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgumentError{Name: key, Reason: "must be a string"}
	}
	if s == "" {
		return "", &ArgumentError{Name: key, Reason: "is required"}
	}
	return s, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgumentError{Name: key, Reason: "must be a string"}
	}
	return s, nil
}

func optionalInt(args map[string]any, key string) (*int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n int
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return nil, &ArgumentError{Name: key, Reason: "must be an integer"}
		}
		n = int(t)
	case int:
		n = t
	default:
		return nil, &ArgumentError{Name: key, Reason: "must be an integer"}
	}
	return &n, nil
}

func optionalBool(args map[string]any, key string) (*bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, &ArgumentError{Name: key, Reason: "must be a boolean"}
	}
	return &b, nil
}

// objectSchema builds a JSON schema object for tool parameters.
func objectSchema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
