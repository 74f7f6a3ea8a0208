package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	// Create a temp config file
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8090\n"), 0600)

	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Listen.Port != 8090 {
		t.Errorf("Listen.Port = %d, want 8090", cfg.Listen.Port)
	}
	if len(cfg.Servers) != 4 {
		t.Fatalf("got %d default servers, want 4", len(cfg.Servers))
	}

	vending, ok := cfg.Server("vending_machine")
	if !ok {
		t.Fatal("default config has no vending_machine server")
	}
	if vending.Command != "python" || len(vending.Args) != 1 || vending.Args[0] != "mcp_servers/vending_machine_mcp.py" {
		t.Errorf("vending command = %s %v", vending.Command, vending.Args)
	}
	if vending.ReadTimeout != 10*time.Second {
		t.Errorf("ReadTimeout = %v, want 10s", vending.ReadTimeout)
	}
	if vending.StopTimeout != 5*time.Second {
		t.Errorf("StopTimeout = %v, want 5s", vending.StopTimeout)
	}
	if vending.CacheTools {
		t.Error("CacheTools should default to false")
	}
	if vending.Handshake.Attempts != 5 {
		t.Errorf("Handshake.Attempts = %d, want 5", vending.Handshake.Attempts)
	}
	if cfg.Ledger.Path != filepath.Join("./data", "ledger.db") {
		t.Errorf("Ledger.Path = %q", cfg.Ledger.Path)
	}
}

func TestDefault_ServersAreIndependentCopies(t *testing.T) {
	a := Default()
	a.Servers[0].Args[0] = "changed.py"

	b := Default()
	if b.Servers[0].Args[0] == "changed.py" {
		t.Error("Default() shares server args between configs")
	}
}

func TestLoad_ServersAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
data_dir: /var/lib/citybridge
servers:
  - name: vending
    kind: vending
    command: docker
    args: [exec, -i, vending, python, vending_machine_mcp.py]
    read_timeout: 30s
    cache_tools: true
    handshake:
      attempts: 8
  - name: extras
    command: /usr/local/bin/extras-mcp
    exclude_tools: [dangerous]
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if len(cfg.Servers) != 2 {
		t.Fatalf("got %d servers, want 2 (file replaces defaults)", len(cfg.Servers))
	}
	v := cfg.Servers[0]
	if v.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %v, want 30s", v.ReadTimeout)
	}
	if !v.CacheTools {
		t.Error("CacheTools = false, want true")
	}
	if v.Handshake.Attempts != 8 {
		t.Errorf("Handshake.Attempts = %d, want 8", v.Handshake.Attempts)
	}
	if v.Handshake.Timeout != 3*time.Second {
		t.Errorf("Handshake.Timeout = %v, want default 3s", v.Handshake.Timeout)
	}

	extras := cfg.Servers[1]
	if extras.Kind != KindGeneric {
		t.Errorf("Kind = %q, want %q", extras.Kind, KindGeneric)
	}
	if cfg.Ledger.Path != "/var/lib/citybridge/ledger.db" {
		t.Errorf("Ledger.Path = %q", cfg.Ledger.Path)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt:\n  password: ${CITYBRIDGE_TEST_PASSWORD}\n"), 0600)
	t.Setenv("CITYBRIDGE_TEST_PASSWORD", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("servers: [unterminated\n"), 0600)

	if _, err := Load(path); err == nil {
		t.Fatal("Load with invalid YAML should error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad port", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"missing name", func(c *Config) { c.Servers[0].Name = "" }, "name is required"},
		{"duplicate name", func(c *Config) { c.Servers[1].Name = c.Servers[0].Name }, "duplicate name"},
		{"missing command", func(c *Config) { c.Servers[0].Command = "" }, "command is required"},
		{"unknown kind", func(c *Config) { c.Servers[0].Kind = "toaster" }, "unknown kind"},
		{"typed kind twice", func(c *Config) { c.Servers[1].Kind = c.Servers[0].Kind }, "already used by server vending_machine"},
		{"filters on typed kind", func(c *Config) { c.Servers[0].IncludeTools = []string{"get_products"} }, "apply only to kind"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker is required"},
		{"mqtt bad scheme", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Broker = "http://broker:1883"
		}, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MQTTBroker(t *testing.T) {
	cfg := Default()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "mqtts://broker.example.com:8883"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
