// Package ledger keeps a persistent record of toolkit invocations.
// Entries are append-only and indexed by time and tool so the CLI can
// show recent activity and per-tool totals.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/city-bridge/internal/toolkit"
)

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded invocation.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"ts"`
	Toolkit    string         `json:"toolkit"`
	Tool       string         `json:"tool"`
	Caller     string         `json:"caller"`
	Args       map[string]any `json:"args,omitempty"`
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// ToolSummary holds per-tool totals.
type ToolSummary struct {
	Toolkit       string `json:"toolkit"`
	Tool          string `json:"tool"`
	Calls         int    `json:"calls"`
	Failures      int    `json:"failures"`
	AvgDurationMS int64  `json:"avg_duration_ms"`
}

// Store is an append-only SQLite store of invocations. It is safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens or creates the ledger at dbPath, creating its
// directory if needed.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS invocations (
		id          TEXT PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		toolkit     TEXT NOT NULL,
		tool        TEXT NOT NULL,
		caller      TEXT NOT NULL,
		args        TEXT,
		ok          INTEGER NOT NULL,
		error       TEXT,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_timestamp ON invocations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(toolkit, tool);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists e. An empty ID gets a UUIDv7 and a zero Timestamp
// gets the current time.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate ledger ID: %w", err)
		}
		e.ID = id.String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var args sql.NullString
	if len(e.Args) > 0 {
		b, err := json.Marshal(e.Args)
		if err != nil {
			return fmt.Errorf("encode arguments: %w", err)
		}
		args = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations
			(id, timestamp, toolkit, tool, caller, args, ok, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Timestamp.UTC().Format(timeFormat),
		e.Toolkit,
		e.Tool,
		e.Caller,
		args,
		e.OK,
		e.Error,
		e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// ObserveInvocation records inv, making the store a
// [toolkit.Observer]. Failures are logged and never reach the caller.
func (s *Store) ObserveInvocation(ctx context.Context, inv toolkit.Invocation) {
	e := Entry{
		Timestamp:  inv.Started,
		Toolkit:    inv.Toolkit,
		Tool:       inv.Tool,
		Caller:     inv.Caller,
		Args:       inv.Args,
		OK:         inv.OK(),
		DurationMS: inv.Duration.Milliseconds(),
	}
	if inv.Err != nil {
		e.Error = inv.Result
	}
	// The call is already finished; a cancelled caller context must not
	// lose the record.
	if err := s.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to record invocation", "tool", inv.Tool, "error", err)
	}
}

// Recent returns the latest n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, toolkit, tool, caller, args, ok, error, duration_ms
		 FROM invocations
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent invocations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			args   sql.NullString
			errStr sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Toolkit, &e.Tool, &e.Caller, &args, &e.OK, &errStr, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeFormat, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		if args.Valid {
			if err := json.Unmarshal([]byte(args.String), &e.Args); err != nil {
				return nil, fmt.Errorf("decode arguments of %s: %w", e.ID, err)
			}
		}
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// SummaryByTool returns per-tool totals for entries within [start, end),
// busiest first.
func (s *Store) SummaryByTool(ctx context.Context, start, end time.Time) ([]ToolSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT toolkit, tool, COUNT(*), COALESCE(SUM(CASE WHEN ok THEN 0 ELSE 1 END), 0),
		        COALESCE(CAST(AVG(duration_ms) AS INTEGER), 0)
		 FROM invocations
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY toolkit, tool
		 ORDER BY COUNT(*) DESC, toolkit, tool`,
		start.UTC().Format(timeFormat),
		end.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("query summary by tool: %w", err)
	}
	defer rows.Close()

	var out []ToolSummary
	for rows.Next() {
		var t ToolSummary
		if err := rows.Scan(&t.Toolkit, &t.Tool, &t.Calls, &t.Failures, &t.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
