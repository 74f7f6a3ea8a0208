package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/city-bridge/internal/mockserver"
)

// TestHelperProcess is not a real test. It runs a mock MCP server when
// re-executed from a test config.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	srv, err := mockserver.New(mockserver.Config{Kind: args[1], APIKey: "test-key"})
	if err != nil {
		os.Exit(2)
	}
	_ = srv.Serve(context.Background(), os.Stdin, os.Stdout)
	srv.Close()
}

// writeConfig writes a config whose servers are mock helper processes
// and returns its path.
func writeConfig(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()

	var b strings.Builder
	fmt.Fprintf(&b, "data_dir: %q\n", filepath.Join(dir, "data"))
	fmt.Fprintf(&b, "log_level: warn\n")
	fmt.Fprintf(&b, "listen:\n  address: 127.0.0.1\n  port: %d\n", port)
	fmt.Fprintf(&b, "health:\n  enabled: true\n  poll_interval: 1h\n")
	fmt.Fprintf(&b, "servers:\n")
	for _, s := range []struct{ name, kind string }{
		{"vending_machine", "vending"},
		{"city_database", "citydb"},
	} {
		fmt.Fprintf(&b, "  - name: %s\n    kind: %s\n", s.name, s.kind)
		fmt.Fprintf(&b, "    command: %q\n", os.Args[0])
		fmt.Fprintf(&b, "    args: [\"-test.run=TestHelperProcess\", \"--\", %q]\n", s.kind)
		fmt.Fprintf(&b, "    env: [\"GO_WANT_HELPER_PROCESS=1\"]\n")
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, args)
	return stdout.String(), err
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		out, err := runCmd(t, args...)
		if err != nil {
			t.Fatalf("run(%v) error = %v", args, err)
		}
		if !strings.Contains(out, "Usage: citybridge") {
			t.Errorf("run(%v) output = %q", args, out)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"launch"}, "unknown command: launch"},
		{"unknown flag", []string{"-x", "version"}, "unknown flag: -x"},
		{"bad output format", []string{"-o", "yaml", "version"}, `unknown output format "yaml"`},
		{"call without tool", []string{"call"}, "usage: citybridge call"},
		{"bad history count", []string{"history", "ten"}, "usage: citybridge history"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "tools"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "citybridge ") || !strings.Contains(out, "go_version:") {
		t.Errorf("text output = %q", out)
	}

	out, err = runCmd(t, "-o", "json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("json output %q: %v", out, err)
	}
	if info["client"] != "citybridge" {
		t.Errorf("client = %q", info["client"])
	}
}

func TestRun_ToolsCallHistory(t *testing.T) {
	cfg := writeConfig(t, 8090)

	out, err := runCmd(t, "-config", cfg, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	for _, want := range []string{"vending_machine (5)", "city_database (4)", "make_purchase", "execute_sql"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools output missing %q:\n%s", want, out)
		}
	}

	out, err = runCmd(t, "-config", cfg, "-o", "json", "tools", "vending_machine")
	if err != nil {
		t.Fatalf("tools vending_machine: %v", err)
	}
	var list []map[string]any
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("unmarshal tools: %v", err)
	}
	if len(list) != 5 {
		t.Errorf("len(tools) = %d, want 5", len(list))
	}

	if _, err := runCmd(t, "-config", cfg, "tools", "nope"); err == nil || !strings.Contains(err.Error(), `no server named "nope"`) {
		t.Errorf("tools nope error = %v", err)
	}

	out, err = runCmd(t, "-config", cfg, "call", "get_products")
	if err != nil {
		t.Fatalf("call get_products: %v", err)
	}
	if !strings.Contains(out, "Green Tea") {
		t.Errorf("get_products output = %q", out)
	}

	out, err = runCmd(t, "-config", cfg, "-o", "plain", "call", "make_purchase", "product_id=p002", "quantity=2")
	if err != nil {
		t.Fatalf("call make_purchase: %v", err)
	}
	if strings.Contains(out, "**") {
		t.Errorf("plain output kept markup: %q", out)
	}

	out, err = runCmd(t, "-config", cfg, "call", "make_purchase", "product_id=p999")
	if err == nil || err.Error() != "make_purchase failed" {
		t.Errorf("failing call error = %v", err)
	}
	if !strings.Contains(out, "❌ Error making purchase: Server error: Product not found: p999") {
		t.Errorf("failing call output = %q", out)
	}

	out, err = runCmd(t, "-config", cfg, "history", "5")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, want := range []string{"get_products", "make_purchase", "cli", "LAST 24H"} {
		if !strings.Contains(out, want) {
			t.Errorf("history output missing %q:\n%s", want, out)
		}
	}

	out, err = runCmd(t, "-config", cfg, "-o", "json", "history")
	if err != nil {
		t.Fatalf("history json: %v", err)
	}
	var hist struct {
		Entries []struct {
			Tool string `json:"tool"`
			OK   bool   `json:"ok"`
		} `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &hist); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(hist.Entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(hist.Entries))
	}
	if hist.Entries[0].Tool != "make_purchase" || hist.Entries[0].OK {
		t.Errorf("newest entry = %+v, want failed make_purchase", hist.Entries[0])
	}
}

func TestRun_Ping(t *testing.T) {
	cfg := writeConfig(t, 8090)

	out, err := runCmd(t, "-config", cfg, "ping")
	if err != nil {
		t.Fatalf("ping: %v\n%s", err, out)
	}
	if !strings.Contains(out, "vending_machine") || !strings.Contains(out, "city_database") {
		t.Errorf("ping output = %q", out)
	}
}

func TestParseToolArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"none", nil, `{}`, false},
		{"string", []string{"product_id=p001"}, `{"product_id":"p001"}`, false},
		{"typed", []string{"quantity=2", "paused=true"}, `{"paused":true,"quantity":2}`, false},
		{"quoted number", []string{`table="2024"`}, `{"table":"2024"}`, false},
		{"value with equals", []string{"query=SELECT 1=1"}, `{"query":"SELECT 1=1"}`, false},
		{"json object", []string{`{"speed": 40}`}, `{"speed": 40}`, false},
		{"bad json object", []string{`{"speed":`}, "", true},
		{"no equals", []string{"p001"}, "", true},
		{"empty key", []string{"=x"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseToolArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseToolArgs(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseToolArgs(%q) = %s, want %s", tt.args, got, tt.want)
			}
		})
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestRun_Serve(t *testing.T) {
	port := freePort(t)
	cfg := writeConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, io.Discard, io.Discard, []string{"-config", cfg, "serve"})
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	client := &http.Client{Timeout: 5 * time.Second}

	// Both servers pass their startup probe.
	deadline := time.Now().Add(15 * time.Second)
	for {
		resp, err := client.Get(base + "/v1/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not healthy in time (last error %v)", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/tools/execute_sql", strings.NewReader(`{"query": "SELECT COUNT(*) AS n FROM residents"}`))
	req.Header.Set("X-Caller", "planner")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("POST execute_sql: %v", err)
	}
	var call struct {
		Result string `json:"result"`
		OK     bool   `json:"ok"`
	}
	err = json.NewDecoder(resp.Body).Decode(&call)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !call.OK || !strings.Contains(call.Result, "{n=6}") {
		t.Errorf("execute_sql = %+v", call)
	}

	resp, err = client.Get(base + "/v1/history?n=1")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"caller":"planner"`) {
		t.Errorf("history = %s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}
