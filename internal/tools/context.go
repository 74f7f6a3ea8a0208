package tools

import (
	"context"
	"sync"
)

type contextKey string

const (
	callerKey  contextKey = "caller"
	outcomeKey contextKey = "outcome"
)

// WithCaller records who is invoking a tool (a remote address, "cli").
// The ledger stores it with each invocation.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext extracts the caller from the context.
// Returns "local" if not set.
func CallerFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey).(string); ok && c != "" {
		return c
	}
	return "local"
}

// Outcome records whether a tool call failed. Toolkits report failures
// as result text, so callers that need the verdict read it here instead
// of parsing the text.
type Outcome struct {
	mu  sync.Mutex
	err error
}

// WithOutcome attaches a fresh Outcome to ctx.
func WithOutcome(ctx context.Context) (context.Context, *Outcome) {
	o := &Outcome{}
	return context.WithValue(ctx, outcomeKey, o), o
}

// OutcomeFromContext returns the Outcome attached to ctx, or nil.
func OutcomeFromContext(ctx context.Context) *Outcome {
	o, _ := ctx.Value(outcomeKey).(*Outcome)
	return o
}

// Fail marks the call failed. The first error is kept. Safe on a nil
// Outcome.
func (o *Outcome) Fail(err error) {
	if o == nil || err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err == nil {
		o.err = err
	}
}

// Err returns the failure recorded by Fail, or nil.
func (o *Outcome) Err() error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
