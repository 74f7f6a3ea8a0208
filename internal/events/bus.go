// Package events is an in-process broadcast bus for bridge activity.
// Toolkit invocations and server health changes are published here and
// fanned out to the websocket stream and the MQTT publisher. A nil *Bus
// is valid and drops everything.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/city-bridge/internal/toolkit"
)

// Sources.
const (
	SourceToolkit = "toolkit"
	SourceHealth  = "health"
	SourceProcess = "process"
)

// Kinds.
const (
	// KindToolDone follows every toolkit call.
	// Data: toolkit, tool, caller, ok, duration_ms, and error on failure.
	KindToolDone = "tool_done"

	// KindServerUp and KindServerDown report health transitions.
	// Data: server, and error for KindServerDown.
	KindServerUp   = "server_up"
	KindServerDown = "server_down"

	// KindStarted and KindStopping bracket the bridge process.
	KindStarted  = "started"
	KindStopping = "stopping"
)

// DefaultHistory is how many recent events a bus keeps for replay.
const DefaultHistory = 100

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to subscribers over buffered channels. A full
// subscriber misses events instead of blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe take the receive-only view handed out
	// by Subscribe.
	recvToSend map[<-chan Event]chan Event

	history []Event
	next    int
	full    bool
}

// New creates a bus keeping the last history events for Recent. A
// history of zero or less uses DefaultHistory.
func New(history int) *Bus {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
		history:    make([]Event, history),
	}
}

// Publish stamps e if needed and delivers it to every subscriber with
// room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history[b.next] = e
	b.next = (b.next + 1) % len(b.history)
	if b.next == 0 {
		b.full = true
	}

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Recent returns up to n of the latest events, oldest first.
func (b *Bus) Recent(n int) []Event {
	if b == nil || n <= 0 {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.history)
	}
	if n > size {
		n = size
	}
	out := make([]Event, 0, n)
	start := b.next - n
	if start < 0 {
		start += len(b.history)
	}
	for i := range n {
		out = append(out, b.history[(start+i)%len(b.history)])
	}
	return out
}

// Subscribe returns a channel of published events. Callers must
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ObserveInvocation publishes a KindToolDone event, making the bus a
// [toolkit.Observer].
func (b *Bus) ObserveInvocation(_ context.Context, inv toolkit.Invocation) {
	data := map[string]any{
		"toolkit":     inv.Toolkit,
		"tool":        inv.Tool,
		"caller":      inv.Caller,
		"ok":          inv.OK(),
		"duration_ms": inv.Duration.Milliseconds(),
	}
	if inv.Err != nil {
		data["error"] = inv.Result
	}
	b.Publish(Event{
		Timestamp: inv.Started.Add(inv.Duration),
		Source:    SourceToolkit,
		Kind:      KindToolDone,
		Data:      data,
	})
}

// ServerHealth publishes a health transition for server.
func (b *Bus) ServerHealth(server string, up bool, err error) {
	e := Event{Source: SourceHealth, Kind: KindServerUp, Data: map[string]any{"server": server}}
	if !up {
		e.Kind = KindServerDown
		if err != nil {
			e.Data["error"] = err.Error()
		}
	}
	b.Publish(e)
}
