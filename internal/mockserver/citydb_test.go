package mockserver

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestCityDB_ExecuteSQL(t *testing.T) {
	s := newServer(t, KindCityDB)

	got := callText(t, s, "execute_sql", map[string]any{
		"query": "SELECT name, age FROM residents WHERE district = 'tech'",
	})
	for _, want := range []string{"✅ Query executed successfully", "📊 Rows returned: 1", "📋 Columns: name, age", "1. {name=Yui Suzuki, age=27}"} {
		if !strings.Contains(got, want) {
			t.Errorf("result missing %q:\n%s", want, got)
		}
	}
}

func TestCityDB_ExecuteSQLNoRows(t *testing.T) {
	s := newServer(t, KindCityDB)
	got := callText(t, s, "execute_sql", map[string]any{"query": "SELECT * FROM traffic WHERE hour > 23"})
	if !strings.HasSuffix(got, "No data returned") {
		t.Errorf("result = %q", got)
	}
}

func TestCityDB_ExecuteSQLError(t *testing.T) {
	s := newServer(t, KindCityDB)

	got := callText(t, s, "execute_sql", map[string]any{"query": "SELECT * FROM nowhere"})
	if !strings.HasPrefix(got, "❌ SQL Error: Query execution error:") {
		t.Errorf("result = %q", got)
	}

	if e := callError(t, s, "execute_sql", nil); e.Message != "query is required" {
		t.Errorf("missing query error = %q", e.Message)
	}
}

func TestCityDB_TableInfo(t *testing.T) {
	s := newServer(t, KindCityDB)
	got := callText(t, s, "get_table_info", nil)

	for _, want := range []string{"**residents** (6 rows)", "**tenant** (4 rows)", "**traffic** (6 rows)", "  - vehicle_count: INTEGER"} {
		if !strings.Contains(got, want) {
			t.Errorf("table info missing %q:\n%s", want, got)
		}
	}
}

func TestCityDB_SampleData(t *testing.T) {
	s := newServer(t, KindCityDB)

	got := callText(t, s, "get_sample_data", map[string]any{"table": "tenant", "limit": 2})
	if !strings.HasPrefix(got, "📄 **Sample data from tenant:**") {
		t.Errorf("header = %q", got)
	}
	if !strings.Contains(got, "2. {") || strings.Contains(got, "3. {") {
		t.Errorf("limit not applied:\n%s", got)
	}

	got = callText(t, s, "get_sample_data", map[string]any{"table": "residents"})
	if !strings.Contains(got, "6. {") {
		t.Errorf("default limit returned too few rows:\n%s", got)
	}

	got = callText(t, s, "get_sample_data", map[string]any{"table": "residents; DROP TABLE residents"})
	if !strings.HasPrefix(got, "❌ Error: unknown table") {
		t.Errorf("unknown table = %q", got)
	}
}

func TestCityDB_TestConnection(t *testing.T) {
	s := newServer(t, KindCityDB)
	if got := callText(t, s, "test_connection", nil); got != "✅ Connection to city database successful" {
		t.Errorf("test_connection = %q", got)
	}
}

func TestCityDB_FileSeededOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "city.db")

	for i := 0; i < 2; i++ {
		s, err := New(Config{Kind: KindCityDB, DBPath: path})
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		got := callText(t, s, "execute_sql", map[string]any{"query": "SELECT COUNT(*) AS n FROM residents"})
		if !strings.Contains(got, "{n=6}") {
			t.Errorf("open %d: residents = %q", i, got)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
}
