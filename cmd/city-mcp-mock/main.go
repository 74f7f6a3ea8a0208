// City-mcp-mock is a stand-in for the Python MCP servers of the smart
// city demo. It speaks newline-delimited JSON-RPC on stdin/stdout and
// logs to stderr.
//
// Usage:
//
//	city-mcp-mock vending
//	city-mcp-mock epalette
//	city-mcp-mock [-db path] citydb
//	city-mcp-mock auth
//
// The auth server reads its API key from MCP_CITY_API_KEY or
// CITY_DEVICES_API_KEY. LOG_LEVEL sets the stderr log level.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/mockserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:], os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run serves one mock MCP server over stdin and stdout until stdin
// closes or ctx is cancelled.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string, getenv func(string) string) error {
	var kind, dbPath string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-db" && i+1 < len(args):
			dbPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-db="):
			dbPath = strings.TrimPrefix(args[i], "-db=")
		case !strings.HasPrefix(args[i], "-") && kind == "":
			kind = args[i]
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
		}
	}
	if kind == "" {
		return fmt.Errorf("usage: city-mcp-mock [-db path] <vending|epalette|citydb|auth>")
	}

	level := slog.LevelInfo
	if v := getenv("LOG_LEVEL"); v != "" {
		l, err := config.ParseLogLevel(v)
		if err != nil {
			return err
		}
		level = l
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	apiKey := getenv("MCP_CITY_API_KEY")
	if apiKey == "" {
		apiKey = getenv("CITY_DEVICES_API_KEY")
	}

	srv, err := mockserver.New(mockserver.Config{
		Kind:   kind,
		DBPath: dbPath,
		APIKey: apiKey,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Serve(ctx, stdin, stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve %s: %w", kind, err)
	}
	return nil
}
