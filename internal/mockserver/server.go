// Package mockserver implements small stdio MCP servers that stand in for
// the city demo services. They keep their state in memory (or in a
// throwaway SQLite database for the city database) and answer the same
// tool names and argument shapes as the real servers, so the bridge can
// be exercised end to end without Python or the HTTP demo APIs.
package mockserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/mcp"
)

// Server kinds accepted by [New].
const (
	KindVending  = config.KindVending
	KindEPalette = config.KindEPalette
	KindCityDB   = config.KindCityDB
	KindAuth     = config.KindAuth
)

// Version is reported in the initialize reply.
const Version = "0.1.0"

// maxLineSize bounds a single request line.
const maxLineSize = 1 << 20

// Handler executes one tool call and returns its text content.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a tool definition with its handler.
type Tool struct {
	Definition mcp.ToolDefinition
	Handler    Handler
}

// ToolError is returned by a handler to fail a tool call with a specific
// JSON-RPC error code. Any other handler error is reported with code -1.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string { return e.Message }

// Config selects and configures a mock server.
type Config struct {
	// Kind is one of vending, epalette, citydb or auth.
	Kind string

	// DBPath is the SQLite file for the city database. Empty uses a
	// private in-memory database.
	DBPath string

	// APIKey authenticates the auth server's caller. Without one the
	// auth tools answer Unauthorized.
	APIKey string

	Logger *slog.Logger
}

// Server answers MCP requests for one fixed tool set.
type Server struct {
	name   string
	tools  []Tool
	index  map[string]int
	logger *slog.Logger
	close  func() error
}

// New builds the mock server for cfg.Kind.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		name    string
		tools   []Tool
		closeFn func() error
	)
	switch cfg.Kind {
	case KindVending:
		name, tools = "VendingMachineMCP", newVending().tools()
	case KindEPalette:
		name, tools = "ePaletteMCP", newEPalette().tools()
	case KindCityDB:
		db, err := openCityDB(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		name, tools, closeFn = "CityDatabaseClientMCP", db.tools(), db.Close
	case KindAuth:
		name, tools = "AuthMCP", newAuth(cfg.APIKey).tools()
	default:
		return nil, fmt.Errorf("unknown mock server kind %q", cfg.Kind)
	}

	return NewWithTools(name, tools, logger, closeFn), nil
}

// NewWithTools builds a server around an arbitrary tool set. closeFn,
// when non-nil, runs on [Server.Close].
func NewWithTools(name string, tools []Tool, logger *slog.Logger, closeFn func() error) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	index := make(map[string]int, len(tools))
	for i, t := range tools {
		index[t.Definition.Name] = i
	}
	return &Server{
		name:   name,
		tools:  tools,
		index:  index,
		logger: logger.With("mock_server", name),
		close:  closeFn,
	}
}

// Name returns the serverInfo name.
func (s *Server) Name() string { return s.name }

// Tools returns the tool definitions in registration order.
func (s *Server) Tools() []mcp.ToolDefinition {
	defs := make([]mcp.ToolDefinition, len(s.tools))
	for i, t := range s.tools {
		defs[i] = t.Definition
	}
	return defs
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Serve reads newline-delimited requests from r and writes one reply
// line per request to w until r is exhausted or ctx is cancelled.
// Notifications get no reply.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	out := bufio.NewWriter(w)

	s.logger.Info("mock MCP server started", "transport", "stdio", "tools", len(s.tools))

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		reply, ok := s.Handle(ctx, line)
		if !ok {
			continue
		}
		if _, err := out.Write(append(reply, '\n')); err != nil {
			return fmt.Errorf("write reply: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush reply: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

type request struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Handle processes one request line. It reports false when the line was
// a notification and no reply is due.
func (s *Server) Handle(ctx context.Context, line []byte) ([]byte, bool) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("failed to parse request", "error", err)
		return s.marshal(errorReply(0, mcp.CodeParseError, "Parse error")), true
	}
	if req.ID == nil {
		s.logger.Debug("notification received", "method", req.Method)
		return nil, false
	}
	id := *req.ID

	switch req.Method {
	case "initialize":
		return s.marshal(resultReply(id, map[string]any{
			"protocolVersion": mcp.ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      mcp.ServerInfo{Name: s.name, Version: Version},
		})), true

	case "tools/list":
		return s.marshal(resultReply(id, mcp.ListToolsResult{Tools: s.Tools()})), true

	case "prompts/list":
		return s.marshal(resultReply(id, map[string]any{"prompts": []any{}})), true

	case "resources/list":
		return s.marshal(resultReply(id, map[string]any{"resources": []any{}})), true

	case "tools/call":
		return s.marshal(s.callTool(ctx, id, req.Params)), true

	default:
		return s.marshal(errorReply(id, mcp.CodeMethodNotFound, "Method not found: "+req.Method)), true
	}
}

func (s *Server) callTool(ctx context.Context, id int64, raw json.RawMessage) mcp.Response {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return errorReply(id, mcp.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	i, ok := s.index[params.Name]
	if !ok {
		return resultReply(id, textResult("❌ Unknown tool: "+params.Name))
	}

	s.logger.Info("executing tool", "tool", params.Name)
	text, err := s.tools[i].Handler(ctx, params.Arguments)
	if err != nil {
		code := -1
		var te *ToolError
		if errors.As(err, &te) {
			code = te.Code
		}
		s.logger.Debug("tool failed", "tool", params.Name, "error", err)
		return errorReply(id, code, err.Error())
	}
	return resultReply(id, textResult(text))
}

func (s *Server) marshal(resp mcp.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal reply", "error", err)
		data, _ = json.Marshal(errorReply(resp.ID, mcp.CodeInternalError, "Internal error"))
	}
	return data
}

func textResult(text string) mcp.CallToolResult {
	return mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: text}}}
}

func resultReply(id int64, result any) mcp.Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorReply(id, mcp.CodeInternalError, fmt.Sprintf("Internal error: %v", err))
	}
	return mcp.Response{JSONRPC: "2.0", ID: id, Result: data}
}

func errorReply(id int64, code int, message string) mcp.Response {
	return mcp.Response{JSONRPC: "2.0", ID: id, Error: &mcp.RPCError{Code: code, Message: message}}
}

// schema builds an object inputSchema from property definitions.
func schema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Argument helpers. JSON numbers arrive as float64.

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), nil
	case int:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

func boolArg(args map[string]any, key string) (value, ok bool, err error) {
	v, present := args[key]
	if !present || v == nil {
		return false, false, nil
	}
	b, isBool := v.(bool)
	if !isBool {
		return false, false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, true, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func def(name, description string, inputSchema map[string]any) mcp.ToolDefinition {
	return mcp.ToolDefinition{Name: name, Description: description, InputSchema: inputSchema}
}
