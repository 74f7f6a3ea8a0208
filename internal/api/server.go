// Package api implements the agent-facing HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/city-bridge/internal/buildinfo"
	"github.com/nugget/city-bridge/internal/connwatch"
	"github.com/nugget/city-bridge/internal/events"
	"github.com/nugget/city-bridge/internal/ledger"
	"github.com/nugget/city-bridge/internal/render"
	"github.com/nugget/city-bridge/internal/tools"
)

// maxArgsSize bounds a tool call request body.
const maxArgsSize = 1 << 20

// CallerHeader names the invoking agent. Without it the caller is
// "http:" plus the remote address.
const CallerHeader = "X-Caller"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// HealthSource reports per-server health.
type HealthSource interface {
	Status() []connwatch.ServerStatus
}

// HistorySource reads the invocation ledger.
type HistorySource interface {
	Recent(ctx context.Context, n int) ([]ledger.Entry, error)
	SummaryByTool(ctx context.Context, start, end time.Time) ([]ledger.ToolSummary, error)
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	registry *tools.Registry
	health   HealthSource
	history  HistorySource
	bus      *events.Bus
	logger   *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates an API server for registry.
func NewServer(address string, port int, registry *tools.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		registry: registry,
		logger:   logger.With("component", "api"),
	}
}

// SetHealth enables per-server status on /v1/health.
func (s *Server) SetHealth(h HealthSource) {
	s.health = h
}

// SetHistory enables the /v1/history endpoints.
func (s *Server) SetHistory(h HistorySource) {
	s.history = h
}

// SetEventBus enables the /v1/events stream.
func (s *Server) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("POST /v1/tools/{name}", s.handleToolCall)

	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/history/summary", s.handleHistorySummary)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(s.address, strconv.Itoa(s.port)),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Tool calls can wait out a slow server start.
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "CityBridge",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of /v1/health.
type HealthResponse struct {
	Status  string                   `json:"status"`
	Servers []connwatch.ServerStatus `json:"servers,omitempty"`
}

// handleHealth answers 200 when every watched server is ready and 503
// with status "degraded" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if s.health != nil {
		resp.Servers = s.health.Status()
		for _, st := range resp.Servers {
			if !st.Ready {
				resp.Status = "degraded"
				break
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"object": "list",
		"data":   s.registry.List(),
	}, s.logger)
}

// ToolCallResponse is the body of a successful POST /v1/tools/{name}.
// A failed tool call is still a 200: OK is false and Result carries the
// failure string.
type ToolCallResponse struct {
	Tool   string `json:"tool"`
	Result string `json:"result"`
	OK     bool   `json:"ok"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if s.registry.Get(name) == nil {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("tool %q not found", name))
		return
	}

	format, err := render.ParseFormat(r.URL.Query().Get("format"))
	if err != nil || format == render.FormatJSON {
		s.errorResponse(w, http.StatusBadRequest, "format must be text, plain or html")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArgsSize))
	if err != nil {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	ctx, outcome := tools.WithOutcome(tools.WithCaller(r.Context(), callerOf(r)))
	result, err := s.registry.Execute(ctx, name, strings.TrimSpace(string(body)))
	if err != nil {
		var unavailable *tools.ErrToolUnavailable
		if errors.As(err, &unavailable) {
			s.errorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	ok := outcome.Err() == nil

	switch format {
	case render.FormatPlain:
		if result, err = render.Plain(result); err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
	case render.FormatHTML:
		page, err := render.Page(name, result)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := io.WriteString(w, page); err != nil {
			s.logger.Debug("failed to write HTML response", "error", err)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ToolCallResponse{Tool: name, Result: result, OK: ok}, s.logger)
}

// callerOf identifies the agent behind r.
func callerOf(r *http.Request) string {
	if c := strings.TrimSpace(r.Header.Get(CallerHeader)); c != "" {
		return c
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "http:" + host
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "ledger not enabled")
		return
	}

	n := parseIntParam(r, "n", 50)
	entries, err := s.history.Recent(r.Context(), n)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "history query failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"entries": entries,
		"count":   len(entries),
	}, s.logger)
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "ledger not enabled")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)
	summary, err := s.history.SummaryByTool(r.Context(), start, end)
	if err != nil {
		s.logger.Error("history summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "history summary failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start": start.UTC(),
		"end":   end.UTC(),
		"tools": summary,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
