// Package devices provides one typed client per city MCP server. Each
// method is a direct pass-through to [mcp.Client.CallTool]: it shapes
// parameters and adds nothing else.
package devices

import (
	"log/slog"
	"time"

	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/mcp"
)

// Options configures the MCP client behind a device client. Zero values
// take the package defaults; an empty Name or nil Command uses the
// device's own.
type Options struct {
	Name        string
	Command     []string
	Env         []string
	Dir         string
	ReadTimeout time.Duration
	StopTimeout time.Duration
	CacheTools  bool
	Handshake   mcp.HandshakeConfig
	Logger      *slog.Logger
}

// OptionsFromConfig converts a server config entry into Options.
func OptionsFromConfig(sc config.ServerConfig, logger *slog.Logger) Options {
	var cmd []string
	if sc.Command != "" {
		cmd = append([]string{sc.Command}, sc.Args...)
	}
	return Options{
		Name:        sc.Name,
		Command:     cmd,
		Env:         sc.Env,
		Dir:         sc.Dir,
		ReadTimeout: sc.ReadTimeout,
		StopTimeout: sc.StopTimeout,
		CacheTools:  sc.CacheTools,
		Handshake: mcp.HandshakeConfig{
			Attempts:     sc.Handshake.Attempts,
			InitialDelay: sc.Handshake.InitialDelay,
			MaxDelay:     sc.Handshake.MaxDelay,
			Timeout:      sc.Handshake.Timeout,
		},
		Logger: logger,
	}
}

// NewClient builds a stdio-backed MCP client. defaultName and
// defaultCommand apply when opts carries none.
func NewClient(defaultName string, defaultCommand []string, opts Options) *mcp.Client {
	name := opts.Name
	if name == "" {
		name = defaultName
	}
	cmd := opts.Command
	if len(cmd) == 0 {
		cmd = defaultCommand
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var command string
	var args []string
	if len(cmd) > 0 {
		command = cmd[0]
		args = append([]string(nil), cmd[1:]...)
	}

	transport := mcp.NewStdioTransport(mcp.StdioConfig{
		Command:     command,
		Args:        args,
		Env:         opts.Env,
		Dir:         opts.Dir,
		StopTimeout: opts.StopTimeout,
		Logger:      logger.With("mcp_server", name),
	})

	return mcp.NewClient(mcp.ClientConfig{
		Name:        name,
		Transport:   transport,
		ReadTimeout: opts.ReadTimeout,
		CacheTools:  opts.CacheTools,
		Handshake:   opts.Handshake,
		Logger:      logger,
	})
}
