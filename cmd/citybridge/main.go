// Citybridge fronts the smart city demo's MCP servers (vending machine,
// e-Palette, city database, auth and any others) and exposes their tools
// to an external agent over HTTP, with an invocation ledger, server
// health watching, and optional MQTT publishing.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]). Without one, the four
// demo servers are launched from ./mcp_servers with python.
//
// Usage:
//
//	citybridge serve                     Start the API server
//	citybridge init [dir]                Write a starter config.yaml
//	citybridge tools [server]            List registered tools
//	citybridge call <tool> [key=value]   Call one tool and print the result
//	citybridge ping [server]             Check that servers answer
//	citybridge history [n]               Show recent invocations
//	citybridge version                   Print version and build information
//	citybridge -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/nugget/city-bridge/internal/buildinfo"
	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/render"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run].
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the citybridge command. Cancelling
// ctx triggers graceful shutdown. Command output goes to stdout; logs
// go to stderr except under serve, where they are the output.
//
// Arguments are parsed by hand to keep run free of flag package globals,
// so tests can call it concurrently.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				// Collect remaining args as subcommand arguments.
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	format, err := render.ParseFormat(outputFmt)
	if err != nil {
		return err
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, format, cmdArgs)
	case "call":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: citybridge call <tool> [key=value ...]")
		}
		return runCall(ctx, stdout, stderr, configPath, format, cmdArgs[0], cmdArgs[1:])
	case "ping":
		return runPing(ctx, stdout, stderr, configPath, format, cmdArgs)
	case "history":
		n := 20
		if len(cmdArgs) > 0 {
			v, err := strconv.Atoi(cmdArgs[0])
			if err != nil || v <= 0 {
				return fmt.Errorf("usage: citybridge history [n]")
			}
			n = v
		}
		return runHistory(ctx, stdout, configPath, format, n)
	case "version":
		return runVersion(stdout, format)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, format render.Format) error {
	info := buildinfo.Info()
	if format == render.FormatJSON {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "CityBridge - MCP bridge for the smart city demo")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: citybridge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                    Start the API server")
	fmt.Fprintln(w, "  init [dir]               Initialize a working directory (default: .)")
	fmt.Fprintln(w, "  tools [server]           List registered tools")
	fmt.Fprintln(w, "  call <tool> [key=value]  Call a tool (or pass one JSON object)")
	fmt.Fprintln(w, "  ping [server]            Check that MCP servers answer")
	fmt.Fprintln(w, "  history [n]              Show recent invocations (default 20)")
	fmt.Fprintln(w, "  version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default), plain, json or html")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/citybridge/config.yaml, /etc/citybridge/config.yaml")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configLogger builds the logger the loaded config asks for.
func configLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	// The level was checked by Validate.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(w, level, cfg.LogFormat)
}

// loadConfig locates, parses and validates the configuration. An
// explicit path must exist. Without one, a missing file yields
// [config.Default] and the path "(defaults)".
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		return cfg, "(defaults)", cfg.Validate()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
