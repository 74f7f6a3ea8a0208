package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBridge(t *testing.T) *Bridge {
	t.Helper()
	b := New(Config{Name: "test"})
	t.Cleanup(func() { b.Close() })
	return b
}

func TestRun_ReturnsResult(t *testing.T) {
	b := newBridge(t)

	got, err := b.Run(context.Background(), func(context.Context) (string, error) {
		return "3 products", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "3 products", got)

	wantErr := errors.New("boom")
	_, err = b.Run(context.Background(), func(context.Context) (string, error) {
		return "", wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestRun_SerializesCalls(t *testing.T) {
	b := newBridge(t)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Run(context.Background(), func(context.Context) (string, error) {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return "", nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load(), "calls overlapped on the worker")
}

func TestRun_NestedCallRunsInline(t *testing.T) {
	b := newBridge(t)

	done := make(chan struct{})
	var got string
	var err error
	go func() {
		defer close(done)
		got, err = b.Run(context.Background(), func(ctx context.Context) (string, error) {
			inner, err := b.Run(ctx, func(context.Context) (string, error) {
				return "inner", nil
			})
			return "outer+" + inner, err
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested Run deadlocked")
	}
	require.NoError(t, err)
	assert.Equal(t, "outer+inner", got)
}

func TestRun_RecoversPanic(t *testing.T) {
	b := newBridge(t)

	_, err := b.Run(context.Background(), func(context.Context) (string, error) {
		panic("stock table corrupted")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock table corrupted")

	// The worker survives.
	got, err := b.Run(context.Background(), func(context.Context) (string, error) {
		return "still here", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "still here", got)
}

func TestRun_ContextCancelledWhileWaiting(t *testing.T) {
	b := newBridge(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Run(context.Background(), func(context.Context) (string, error) {
		close(started)
		<-release
		return "", nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Run(ctx, func(context.Context) (string, error) {
		t.Error("cancelled call should not run")
		return "", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)

	// A later call still works, and the abandoned one is skipped.
	got, err := b.Run(context.Background(), func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestClose(t *testing.T) {
	b := New(Config{QueueSize: 1})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "second Close")

	_, err := b.Run(context.Background(), func(context.Context) (string, error) {
		t.Error("call ran after Close")
		return "", nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_WaitsForRunningCall(t *testing.T) {
	b := New(Config{})

	started := make(chan struct{})
	var finished atomic.Bool
	result := make(chan string, 1)
	go func() {
		got, _ := b.Run(context.Background(), func(context.Context) (string, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return "done", nil
		})
		result <- got
	}()
	<-started

	require.NoError(t, b.Close())
	assert.True(t, finished.Load(), "Close returned before the running call finished")
	assert.Equal(t, "done", <-result)
}
