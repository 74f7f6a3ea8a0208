// Package config handles citybridge configuration loading.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/citybridge/config.yaml, /etc/citybridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "citybridge", "config.yaml"))
	}

	paths = append(paths, "/etc/citybridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Server kinds. Each non-generic kind has a specialized client and a
// hand-written toolkit; generic servers get their tools discovered.
const (
	KindVending  = "vending"
	KindEPalette = "epalette"
	KindCityDB   = "citydb"
	KindAuth     = "auth"
	KindGeneric  = "generic"
)

// Config holds all citybridge configuration.
type Config struct {
	Listen    ListenConfig   `yaml:"listen"`
	Servers   []ServerConfig `yaml:"servers"`
	Bridge    BridgeConfig   `yaml:"bridge"`
	Ledger    LedgerConfig   `yaml:"ledger"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
	Health    HealthConfig   `yaml:"health"`
	DataDir   string         `yaml:"data_dir"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"` // text or json
}

// ListenConfig defines the agent-facing HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8090
}

// ServerConfig describes one MCP server process and how its tools are
// exposed.
type ServerConfig struct {
	// Name identifies the server in logs, health status and discovered
	// tool names. Must be unique.
	Name string `yaml:"name"`

	// Kind selects the toolkit (vending, epalette, citydb, auth, generic).
	Kind string `yaml:"kind"`

	// Command and Args form the launch command vector.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// Env holds extra KEY=VALUE entries for the child environment.
	Env []string `yaml:"env"`

	// Dir is the working directory for the child process.
	Dir string `yaml:"dir"`

	ReadTimeout time.Duration `yaml:"read_timeout"` // Default: 10s
	StopTimeout time.Duration `yaml:"stop_timeout"` // Default: 5s

	// CacheTools keeps the tools/list result until the server restarts
	// instead of listing before every call.
	CacheTools bool `yaml:"cache_tools"`

	// IncludeTools and ExcludeTools filter discovered tools. Generic
	// servers only.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`

	Handshake HandshakeConfig `yaml:"handshake"`
}

// HandshakeConfig bounds the readiness handshake after each spawn.
type HandshakeConfig struct {
	Attempts     int           `yaml:"attempts"`      // Default: 5
	InitialDelay time.Duration `yaml:"initial_delay"` // Default: 250ms
	MaxDelay     time.Duration `yaml:"max_delay"`     // Default: 2s
	Timeout      time.Duration `yaml:"timeout"`       // Default: 3s
}

// BridgeConfig sizes the worker that runs tool calls for synchronous
// callers.
type BridgeConfig struct {
	QueueSize int `yaml:"queue_size"` // Default: 16
}

// LedgerConfig controls the SQLite invocation ledger.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Default: <data_dir>/ledger.db
}

// MQTTConfig controls publishing of invocation events and server
// availability.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. mqtt://broker:1883, mqtts://broker:8883
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TopicPrefix is the first topic segment (default "citybridge").
	TopicPrefix string `yaml:"topic_prefix"`

	// DeviceName is the second topic segment and part of the client id.
	// Default: the host name.
	DeviceName string `yaml:"device_name"`
}

// HealthConfig controls background health watching of MCP servers.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval"` // Default: 60s
}

// Default demo server launch commands, relative to the demo checkout.
var defaultServers = []ServerConfig{
	{Name: "vending_machine", Kind: KindVending, Command: "python", Args: []string{"mcp_servers/vending_machine_mcp.py"}},
	{Name: "epalette", Kind: KindEPalette, Command: "python", Args: []string{"mcp_servers/epalette_mcp_server.py"}},
	{Name: "city_database", Kind: KindCityDB, Command: "python", Args: []string{"mcp_servers/city_database_client_mcp_server.py"}},
	{Name: "auth", Kind: KindAuth, Command: "python", Args: []string{"mcp_servers/auth_mcp_server.py"}},
}

// Load reads configuration from a YAML file. Environment variables are
// expanded before parsing. Unset fields take the values from Default;
// a file with a servers list replaces the default servers entirely.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := baseConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration wired to the four demo
// servers.
func Default() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}

// baseConfig holds the explicit defaults. Derived values such as the
// ledger path are left for applyDefaults so a loaded data_dir feeds them.
func baseConfig() *Config {
	servers := make([]ServerConfig, len(defaultServers))
	for i, s := range defaultServers {
		s.Args = append([]string(nil), s.Args...)
		servers[i] = s
	}

	return &Config{
		Listen:    ListenConfig{Port: 8090},
		Servers:   servers,
		Ledger:    LedgerConfig{Enabled: true},
		MQTT:      MQTTConfig{TopicPrefix: "citybridge"},
		Health:    HealthConfig{Enabled: true},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// applyDefaults fills zero values that have a non-zero default.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8090
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Bridge.QueueSize <= 0 {
		c.Bridge.QueueSize = 16
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.DataDir, "ledger.db")
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "citybridge"
	}
	if c.MQTT.DeviceName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.MQTT.DeviceName = strings.ToLower(strings.Split(host, ".")[0])
		} else {
			c.MQTT.DeviceName = "citybridge"
		}
	}
	if c.Health.PollInterval <= 0 {
		c.Health.PollInterval = 60 * time.Second
	}

	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Kind == "" {
			s.Kind = KindGeneric
		}
		if s.ReadTimeout <= 0 {
			s.ReadTimeout = 10 * time.Second
		}
		if s.StopTimeout <= 0 {
			s.StopTimeout = 5 * time.Second
		}
		if s.Handshake.Attempts <= 0 {
			s.Handshake.Attempts = 5
		}
		if s.Handshake.InitialDelay <= 0 {
			s.Handshake.InitialDelay = 250 * time.Millisecond
		}
		if s.Handshake.MaxDelay <= 0 {
			s.Handshake.MaxDelay = 2 * time.Second
		}
		if s.Handshake.Timeout <= 0 {
			s.Handshake.Timeout = 3 * time.Second
		}
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat)
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	seen := make(map[string]bool, len(c.Servers))
	typed := make(map[string]string)
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("servers[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true

		if s.Command == "" {
			return fmt.Errorf("server %s: command is required", s.Name)
		}
		switch s.Kind {
		case KindVending, KindEPalette, KindCityDB, KindAuth:
			if len(s.IncludeTools) > 0 || len(s.ExcludeTools) > 0 {
				return fmt.Errorf("server %s: include_tools/exclude_tools apply only to kind %q", s.Name, KindGeneric)
			}
			// Typed toolkits register fixed tool names.
			if prev, ok := typed[s.Kind]; ok {
				return fmt.Errorf("server %s: kind %q already used by server %s", s.Name, s.Kind, prev)
			}
			typed[s.Kind] = s.Name
		case KindGeneric:
		default:
			return fmt.Errorf("server %s: unknown kind %q", s.Name, s.Kind)
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		u, err := url.Parse(c.MQTT.Broker)
		if err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "tcp", "mqtts", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("mqtt.broker scheme %q unsupported", u.Scheme)
		}
	}

	return nil
}

// Server returns the server config with the given name.
func (c *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}
