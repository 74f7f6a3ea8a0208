// Package bridge gives synchronous call sites a way to run MCP client
// calls on a single long-lived worker goroutine.
//
// Toolkit methods are plain blocking functions. Each one hands its call
// to the bridge and waits for the result. The worker runs calls one at a
// time in submission order, which matches the one-request-in-flight rule
// of a stdio MCP server. A call made from inside a bridged call (the
// worker calling back into a toolkit) would wait on itself forever, so
// the bridge detects it through the context and runs it inline instead.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// DefaultQueueSize is the number of calls that may wait for the worker
// before Run blocks on submission.
const DefaultQueueSize = 16

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("bridge is closed")

// Func is a unit of bridged work.
type Func func(ctx context.Context) (string, error)

// Config configures a Bridge.
type Config struct {
	// Name labels log lines from this bridge.
	Name string

	// QueueSize bounds waiting calls. Zero means DefaultQueueSize.
	QueueSize int

	Logger *slog.Logger
}

type outcome struct {
	text string
	err  error
}

type job struct {
	ctx    context.Context
	fn     Func
	result chan outcome
}

// workerKey marks contexts that are already running on a bridge worker.
type workerKey struct{}

// Bridge owns one worker goroutine. The zero value is not usable; call
// New.
type Bridge struct {
	jobs   chan job
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// New starts a bridge worker.
func New(cfg Config) *Bridge {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name != "" {
		logger = logger.With("bridge", cfg.Name)
	}

	b := &Bridge{
		jobs:   make(chan job, size),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go b.loop()
	return b
}

// Run executes fn on the worker and blocks until it finishes, ctx is
// done, or the bridge closes. A cancelled ctx abandons the wait but the
// worker still finishes a call it has already started.
func (b *Bridge) Run(ctx context.Context, fn Func) (string, error) {
	if ctx.Value(workerKey{}) == b {
		return b.call(ctx, fn)
	}

	select {
	case <-b.quit:
		return "", ErrClosed
	default:
	}

	res := make(chan outcome, 1)
	select {
	case b.jobs <- job{ctx: ctx, fn: fn, result: res}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.quit:
		return "", ErrClosed
	}

	select {
	case out := <-res:
		return out.text, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		// The worker may have answered just before exiting.
		select {
		case out := <-res:
			return out.text, out.err
		default:
			return "", ErrClosed
		}
	}
}

// Close stops the worker after the call in progress, fails any queued
// calls with ErrClosed, and waits for the worker to exit. It is safe to
// call more than once.
func (b *Bridge) Close() error {
	b.once.Do(func() { close(b.quit) })
	<-b.done
	return nil
}

func (b *Bridge) loop() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			b.drain()
			return
		case j := <-b.jobs:
			if err := j.ctx.Err(); err != nil {
				j.result <- outcome{err: err}
				continue
			}
			ctx := context.WithValue(j.ctx, workerKey{}, b)
			text, err := b.call(ctx, j.fn)
			j.result <- outcome{text: text, err: err}
		}
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case j := <-b.jobs:
			j.result <- outcome{err: ErrClosed}
		default:
			return
		}
	}
}

// call runs fn, converting a panic into an error.
func (b *Bridge) call(ctx context.Context, fn Func) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in bridged call", "panic", r, "stack", string(debug.Stack()))
			text, err = "", fmt.Errorf("bridged call panicked: %v", r)
		}
	}()
	return fn(ctx)
}
