package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/city-bridge/internal/buildinfo"
)

// ProtocolVersion is the MCP protocol version we advertise during initialization.
const ProtocolVersion = "2024-11-05"

// Sentinel texts returned by CallTool when a successful reply carries
// no usable text.
const (
	NoContentText     = "No content returned"
	NoTextContentText = "No text content"
)

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the result payload of a tools/call response.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ListToolsResult is the result payload of a tools/list response.
type ListToolsResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ServerInfo identifies the server in an initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the initialize response result. The city servers
// fill it loosely; callers mostly care that it arrived at all.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// HandshakeConfig bounds the readiness handshake run after each spawn.
type HandshakeConfig struct {
	// Attempts is the number of initialize requests sent before giving
	// up (default 5).
	Attempts int

	// InitialDelay is the pause after the first failed attempt (default
	// 250ms). It doubles per attempt up to MaxDelay.
	InitialDelay time.Duration

	// MaxDelay caps the backoff between attempts (default 2s).
	MaxDelay time.Duration

	// Timeout is the read deadline for each initialize attempt
	// (default 3s).
	Timeout time.Duration
}

// DefaultHandshakeConfig returns the handshake bounds used when none
// are configured.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{
		Attempts:     5,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Timeout:      3 * time.Second,
	}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name identifies the server in logs and discovered tool names.
	Name string

	// Transport carries lines to and from the server. Required.
	Transport Transport

	// ReadTimeout bounds the wait for each reply (default 10s).
	ReadTimeout time.Duration

	// CacheTools keeps the tools/list result for the lifetime of one
	// server process. Tool sets are static per process, so the only
	// staleness is a server upgraded in place without a restart.
	CacheTools bool

	// Handshake bounds the readiness check after a spawn. Zero fields
	// take their defaults.
	Handshake HandshakeConfig

	Logger *slog.Logger
}

// Client connects to a single MCP server and provides typed access to
// the MCP protocol operations (initialize, tools/list, tools/call).
//
// Requests are serialized: each holds the client's semaphore from the
// write until its reply has been read.
type Client struct {
	name        string
	transport   Transport
	logger      *slog.Logger
	readTimeout time.Duration
	cacheTools  bool
	handshake   HandshakeConfig

	nextID atomic.Int64
	sem    chan struct{}

	mu         sync.RWMutex
	serverInfo ServerInfo
	tools      []ToolDefinition
}

// NewClient creates an MCP client. The server is not contacted until
// the first request.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	hs := cfg.Handshake
	def := DefaultHandshakeConfig()
	if hs.Attempts <= 0 {
		hs.Attempts = def.Attempts
	}
	if hs.InitialDelay <= 0 {
		hs.InitialDelay = def.InitialDelay
	}
	if hs.MaxDelay <= 0 {
		hs.MaxDelay = def.MaxDelay
	}
	if hs.Timeout <= 0 {
		hs.Timeout = def.Timeout
	}

	return &Client{
		name:        cfg.Name,
		transport:   cfg.Transport,
		logger:      logger.With("mcp_server", cfg.Name),
		readTimeout: cfg.ReadTimeout,
		cacheTools:  cfg.CacheTools,
		handshake:   hs,
		sem:         make(chan struct{}, 1),
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// ServerInfo returns what the server reported during the most recent
// handshake. It is zero until a handshake has completed.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// acquire takes the request slot, giving up when ctx is done.
func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// select picks randomly when both are ready; never start a request
	// on a context that is already done.
	if err := ctx.Err(); err != nil {
		c.release()
		return err
	}
	return nil
}

func (c *Client) release() {
	<-c.sem
}

// NextID allocates the next request id. Ids start at 1 and increase
// strictly for the lifetime of the client, across respawns.
func (c *Client) NextID() int64 {
	return c.nextID.Add(1)
}

// SendRequest sends one request and returns its decoded reply. A reply
// carrying an error member fails with a protocol error.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (*Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	if _, _, err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, method, params, c.readTimeout)
}

// Initialize performs the MCP handshake: an initialize request followed
// by the notifications/initialized notification. When this call is the
// one that spawns the server, the readiness handshake already did both
// and its result is returned.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	result, fresh, err := c.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}
	if fresh && result != nil {
		return result, nil
	}
	return c.initialize(ctx, c.readTimeout)
}

// ListTools calls tools/list and returns the available tool definitions,
// or an empty slice when the result carries none.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	if _, _, err := c.ensureStarted(ctx); err != nil {
		return nil, err
	}
	return c.listTools(ctx, c.cacheTools)
}

// CallTool invokes a tool by name and returns the text of the first
// content block. The name is checked against tools/list first so an
// unknown tool fails with the list of names the server does offer; in
// that case tools/call is never sent.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	if _, _, err := c.ensureStarted(ctx); err != nil {
		return "", err
	}

	tools, err := c.listTools(ctx, c.cacheTools)
	if err != nil {
		return "", err
	}

	found := false
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
		if t.Name == name {
			found = true
		}
	}
	if !found {
		return "", toolNotFoundError(name, names)
	}

	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.roundTrip(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	}, c.readTimeout)
	if err != nil {
		return "", err
	}
	if !resp.HasResult() {
		return "", &Error{Kind: KindProtocol, Code: -1, Message: "Tool call failed: Unknown error"}
	}

	var result struct {
		Content []map[string]any `json:"content"`
		IsError bool             `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", invalidResponseError(fmt.Errorf("decode tools/call result: %w", err))
	}

	if result.IsError {
		c.logger.Debug("MCP tool reported an error result", "tool", name)
	}

	if len(result.Content) == 0 {
		return NoContentText, nil
	}
	text, ok := result.Content[0]["text"]
	if !ok || text == nil {
		return NoTextContentText, nil
	}
	if s, ok := text.(string); ok {
		return s, nil
	}
	return fmt.Sprint(text), nil
}

// Ping checks whether the MCP server is responsive by listing its
// tools, bypassing and refreshing the cache. Used by connwatch for
// health monitoring.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if _, _, err := c.ensureStarted(ctx); err != nil {
		return err
	}
	_, err := c.listTools(ctx, false)
	return err
}

// InvalidateTools drops the cached tool list.
func (c *Client) InvalidateTools() {
	c.mu.Lock()
	c.tools = nil
	c.mu.Unlock()
}

// Close stops the server process. It is idempotent and never fails.
func (c *Client) Close() error {
	c.logger.Debug("closing MCP client")
	c.InvalidateTools()
	if err := c.transport.Close(); err != nil {
		c.logger.Warn("MCP transport close failed", "error", err)
	}
	return nil
}

// ensureStarted starts the transport and, when that spawned a fresh
// server, runs the readiness handshake. The caller holds the semaphore.
func (c *Client) ensureStarted(ctx context.Context) (*InitializeResult, bool, error) {
	spawned, err := c.transport.Start(ctx)
	if err != nil {
		return nil, false, err
	}
	if !spawned {
		return nil, false, nil
	}

	c.InvalidateTools()
	result, err := c.readinessHandshake(ctx)
	if err != nil {
		if !answeredHandshakeError(err) {
			return nil, true, err
		}
		// The server replied, so it is up even if it rejects initialize.
		c.logger.Warn("MCP server rejected initialize, treating as ready", "error", err)
		return nil, true, nil
	}
	return result, true, nil
}

// readinessHandshake sends initialize until a reply arrives, backing off
// between attempts. A reply is the readiness signal; late replies to
// earlier attempts carry older ids and are skipped by roundTrip.
func (c *Client) readinessHandshake(ctx context.Context) (*InitializeResult, error) {
	delay := c.handshake.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= c.handshake.Attempts; attempt++ {
		result, err := c.initialize(ctx, c.handshake.Timeout)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryableHandshakeError(err) || attempt == c.handshake.Attempts {
			break
		}

		c.logger.Debug("MCP server not ready, retrying initialize",
			"attempt", attempt,
			"max_attempts", c.handshake.Attempts,
			"next_delay", delay,
			"error", err,
		)

		if !sleepCtx(ctx, delay) {
			return nil, fmt.Errorf("MCP readiness handshake: %w", ctx.Err())
		}
		delay *= 2
		if delay > c.handshake.MaxDelay {
			delay = c.handshake.MaxDelay
		}

		// A server that exited during startup is respawned for the next attempt.
		if _, err := c.transport.Start(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Warn("MCP server failed readiness handshake",
		"attempts", c.handshake.Attempts,
		"error", lastErr,
	)
	return nil, lastErr
}

// retryableHandshakeError reports whether err may clear up once a
// slow-starting server is ready. A server that answers with garbage or
// an error object is up, so retrying would not help.
func retryableHandshakeError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTimeout, KindEmptyResponse, KindTransport:
		return true
	default:
		return false
	}
}

// answeredHandshakeError reports whether err came from a server that
// replied to initialize, with an error object or an undecodable line.
func answeredHandshakeError(err error) bool {
	return IsKind(err, KindProtocol) || IsKind(err, KindInvalidResponse)
}

// initialize sends initialize and the initialized notification. The
// caller holds the semaphore and has started the transport.
func (c *Client) initialize(ctx context.Context, timeout time.Duration) (*InitializeResult, error) {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo": map[string]any{
			"name":    buildinfo.ClientName,
			"version": buildinfo.Version,
		},
	}

	resp, err := c.roundTrip(ctx, "initialize", params, timeout)
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if resp.HasResult() {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			// The body is informational; a loose server is still ready.
			c.logger.Debug("ignoring undecodable initialize result", "error", err)
		}
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	// Send the initialized notification to complete the handshake.
	if err := c.transport.WriteLine(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return nil, err
	}

	return &result, nil
}

// listTools sends tools/list, consulting and filling the cache when
// useCache is set. The caller holds the semaphore.
func (c *Client) listTools(ctx context.Context, useCache bool) ([]ToolDefinition, error) {
	if useCache {
		c.mu.RLock()
		cached := c.tools
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
	}

	resp, err := c.roundTrip(ctx, "tools/list", nil, c.readTimeout)
	if err != nil {
		return nil, err
	}

	tools := []ToolDefinition{}
	if resp.HasResult() {
		var result ListToolsResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, invalidResponseError(fmt.Errorf("decode tools/list result: %w", err))
		}
		if result.Tools != nil {
			tools = result.Tools
		}
	}

	if c.cacheTools {
		c.mu.Lock()
		c.tools = tools
		c.mu.Unlock()
	}

	c.logger.Debug("listed MCP tools", "count", len(tools))
	return tools, nil
}

// roundTrip writes one request and reads lines until the matching reply.
// A reply without an id is taken as the answer. Replies with an older
// id belong to requests abandoned after a timeout and are skipped. The
// deadline covers the whole wait, skipped lines included.
func (c *Client) roundTrip(ctx context.Context, method string, params any, timeout time.Duration) (*Response, error) {
	id := c.NextID()
	if err := c.transport.WriteLine(ctx, NewRequest(id, method, params)); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, timeoutError()
		}

		line, err := c.transport.ReadLine(ctx, remaining)
		if err != nil {
			return nil, err
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, invalidResponseError(err)
		}

		switch {
		case !resp.HasID():
			// Servers that skip the id, or reply with a null id after a
			// parse failure, still answer this request.
		case resp.ID == id:
		case resp.ID < id:
			c.logger.Debug("skipping stale MCP reply",
				"method", method,
				"want_id", id,
				"got_id", resp.ID,
			)
			continue
		default:
			return nil, invalidResponseError(fmt.Errorf("reply id %d does not match request id %d", resp.ID, id))
		}

		if resp.Error != nil {
			return nil, serverError(resp.Error)
		}
		return &resp, nil
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// the context was cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
