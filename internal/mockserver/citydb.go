package mockserver

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite"
)

// maxResultRows caps the rows rendered by execute_sql.
const maxResultRows = 20

const defaultSampleLimit = 10

const cityDBSchema = `
CREATE TABLE IF NOT EXISTS residents (
	id             INTEGER PRIMARY KEY,
	name           TEXT NOT NULL,
	age            INTEGER NOT NULL,
	district       TEXT NOT NULL,
	household_size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenant (
	id         INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	district   TEXT NOT NULL,
	floor_area REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS traffic (
	id            INTEGER PRIMARY KEY,
	district      TEXT NOT NULL,
	hour          INTEGER NOT NULL,
	vehicle_count INTEGER NOT NULL,
	avg_speed     REAL NOT NULL
);
`

const cityDBSeed = `
INSERT INTO residents (id, name, age, district, household_size) VALUES
	(1, 'Aiko Tanaka', 34, 'central', 3),
	(2, 'Kenji Sato', 58, 'east', 2),
	(3, 'Yui Suzuki', 27, 'tech', 1),
	(4, 'Haruto Ito', 41, 'south', 4),
	(5, 'Mei Watanabe', 72, 'west', 1),
	(6, 'Ren Yamamoto', 19, 'north', 5);

INSERT INTO tenant (id, name, category, district, floor_area) VALUES
	(1, 'Woven Cafe', 'restaurant', 'central', 120.5),
	(2, 'Mobility Lab', 'research', 'tech', 860.0),
	(3, 'Corner Market', 'retail', 'east', 240.0),
	(4, 'Harbor Clinic', 'healthcare', 'south', 310.0);

INSERT INTO traffic (id, district, hour, vehicle_count, avg_speed) VALUES
	(1, 'central', 8, 412, 18.5),
	(2, 'central', 12, 268, 24.0),
	(3, 'east', 8, 190, 31.2),
	(4, 'tech', 9, 355, 21.7),
	(5, 'south', 17, 298, 26.4),
	(6, 'west', 18, 150, 35.9);
`

type cityDB struct {
	db *sql.DB
}

// openCityDB opens (and seeds, when empty) the demo city database. An
// empty path keeps everything in memory.
func openCityDB(path string) (*cityDB, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening city database: %w", err)
	}
	// Every pooled connection to :memory: would see its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(cityDBSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating city schema: %w", err)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM residents").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking seed data: %w", err)
	}
	if n == 0 {
		if _, err := db.Exec(cityDBSeed); err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding city database: %w", err)
		}
	}

	return &cityDB{db: db}, nil
}

func (c *cityDB) Close() error { return c.db.Close() }

func (c *cityDB) tools() []Tool {
	return []Tool{
		{
			Definition: def("execute_sql", "Execute SQL query on city database",
				schema(map[string]any{
					"query": map[string]any{"type": "string", "description": "SQL query to execute"},
				}, "query")),
			Handler: c.executeSQL,
		},
		{
			Definition: def("get_table_info", "Get information about all tables in the database", schema(nil)),
			Handler:    c.tableInfo,
		},
		{
			Definition: def("get_sample_data", "Get sample data from a specific table",
				schema(map[string]any{
					"table": map[string]any{"type": "string", "description": "Table name to get sample data from"},
					"limit": map[string]any{"type": "integer", "description": "Number of rows to return (default: 10)", "default": defaultSampleLimit},
				}, "table")),
			Handler: c.sampleData,
		},
		{
			Definition: def("test_connection", "Test connection to city database", schema(nil)),
			Handler:    c.testConnection,
		},
	}
}

// queryResult is a fully materialized result set.
type queryResult struct {
	Columns []string
	Rows    [][]any
}

func (c *cityDB) query(ctx context.Context, q string, args ...any) (*queryResult, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &queryResult{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, vals)
	}
	return res, rows.Err()
}

func (c *cityDB) executeSQL(ctx context.Context, args map[string]any) (string, error) {
	q, ok := stringArg(args, "query")
	if !ok || strings.TrimSpace(q) == "" {
		return "", fmt.Errorf("query is required")
	}

	res, err := c.query(ctx, q)
	if err != nil {
		return "❌ SQL Error: Query execution error: " + err.Error(), nil
	}

	var b strings.Builder
	b.WriteString("✅ Query executed successfully\n")
	fmt.Fprintf(&b, "📊 Rows returned: %d\n", len(res.Rows))
	fmt.Fprintf(&b, "📋 Columns: %s\n\n", strings.Join(res.Columns, ", "))
	if len(res.Rows) == 0 {
		b.WriteString("No data returned")
		return b.String(), nil
	}

	b.WriteString("📄 Results:\n")
	for i, row := range res.Rows {
		if i == maxResultRows {
			fmt.Fprintf(&b, "... and %d more rows\n", len(res.Rows)-maxResultRows)
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatRow(res.Columns, row))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *cityDB) tableNames(ctx context.Context) ([]string, error) {
	res, err := c.query(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		names = append(names, fmt.Sprint(row[0]))
	}
	return names, nil
}

func (c *cityDB) tableInfo(ctx context.Context, _ map[string]any) (string, error) {
	names, err := c.tableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("listing tables: %w", err)
	}

	var b strings.Builder
	b.WriteString("📊 **City Database Tables:**\n\n")
	for _, name := range names {
		var count int
		// Table names come from sqlite_master, not the caller.
		if err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", name)).Scan(&count); err != nil {
			return "", fmt.Errorf("counting %s: %w", name, err)
		}
		cols, err := c.query(ctx, fmt.Sprintf("PRAGMA table_info(%q)", name))
		if err != nil {
			return "", fmt.Errorf("describing %s: %w", name, err)
		}

		fmt.Fprintf(&b, "**%s** (%d rows)\n", name, count)
		for _, col := range cols.Rows {
			// table_info columns: cid, name, type, notnull, dflt_value, pk
			fmt.Fprintf(&b, "  - %s: %s\n", cellString(col[1]), cellString(col[2]))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *cityDB) sampleData(ctx context.Context, args map[string]any) (string, error) {
	table, ok := stringArg(args, "table")
	if !ok || table == "" {
		return "", fmt.Errorf("table is required")
	}
	limit, err := intArg(args, "limit", defaultSampleLimit)
	if err != nil {
		return "", err
	}
	if limit <= 0 {
		limit = defaultSampleLimit
	}

	names, err := c.tableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("listing tables: %w", err)
	}
	if !slices.Contains(names, table) {
		return fmt.Sprintf("❌ Error: unknown table %q (available: %s)", table, strings.Join(names, ", ")), nil
	}

	res, err := c.query(ctx, fmt.Sprintf("SELECT * FROM %q LIMIT ?", table), limit)
	if err != nil {
		return "❌ Error: " + err.Error(), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📄 **Sample data from %s:**\n\n", table)
	for i, row := range res.Rows {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatRow(res.Columns, row))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (c *cityDB) testConnection(ctx context.Context, _ map[string]any) (string, error) {
	var status string
	if err := c.db.QueryRowContext(ctx, "SELECT 'Connection successful'").Scan(&status); err != nil {
		return "❌ Connection to city database failed", nil
	}
	return "✅ Connection to city database successful", nil
}

func formatRow(cols []string, row []any) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + "=" + cellString(row[i])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
