package mcp

import (
	"context"
	"time"
)

// Transport is the line-oriented channel to an MCP server. The Client
// performs envelope construction and decoding; a transport only moves
// lines and owns whatever process or connection sits behind them.
type Transport interface {
	// Start makes sure the server is running. It reports true when a
	// fresh server was started by this call, which tells the client to
	// run its readiness handshake and drop cached state.
	Start(ctx context.Context) (bool, error)

	// WriteLine serializes payload as single-line JSON, appends a
	// newline, and flushes it.
	WriteLine(ctx context.Context, payload any) error

	// ReadLine returns the next line from the server, waiting at most
	// timeout. The trailing newline is stripped.
	ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Close shuts down the transport and releases resources. It is
	// idempotent and safe to call on a transport that never started.
	Close() error
}
