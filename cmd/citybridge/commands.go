package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/ledger"
	"github.com/nugget/city-bridge/internal/render"
	"github.com/nugget/city-bridge/internal/toolkit"
	"github.com/nugget/city-bridge/internal/tools"
)

// cliCaller is recorded as the caller of tools run from the command line.
const cliCaller = "cli"

// cliLogger logs to stderr at the configured level, but no chattier
// than warnings, so command output stays readable.
func cliLogger(stderr io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(stderr, max(level, slog.LevelWarn), cfg.LogFormat)
}

// runTools lists the tools of every server, or of the one named.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath string, format render.Format, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	var only string
	if len(args) > 0 {
		only = args[0]
	}

	fl, err := buildFleet(ctx, cfg, only, nil, cliLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer fl.Close()

	if format == render.FormatJSON {
		return writeJSON(stdout, fl.registry.List())
	}

	byKit := make(map[string][]*tools.Tool)
	for _, t := range fl.registry.Tools() {
		byKit[t.Toolkit] = append(byKit[t.Toolkit], t)
	}
	for _, name := range fl.names() {
		fmt.Fprintf(stdout, "%s (%d)\n", name, len(byKit[name]))
		for _, t := range byKit[name] {
			fmt.Fprintf(stdout, "  %-28s %s\n", t.Name, firstLine(t.Description))
		}
	}
	return nil
}

// runCall runs one tool and prints its result. A failure result is
// printed like any other and also returned as an error, so the exit
// status reflects it.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath string, format render.Format, name string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	argsJSON, err := parseToolArgs(args)
	if err != nil {
		return err
	}

	logger := cliLogger(stderr, cfg)
	var observers []toolkit.Observer
	if cfg.Ledger.Enabled {
		store, err := ledger.NewStore(cfg.Ledger.Path, logger)
		if err != nil {
			return fmt.Errorf("open ledger %s: %w", cfg.Ledger.Path, err)
		}
		defer store.Close()
		observers = append(observers, store)
	}

	fl, err := buildFleet(ctx, cfg, "", observers, logger)
	if err != nil {
		return err
	}
	defer fl.Close()

	ctx, outcome := tools.WithOutcome(tools.WithCaller(ctx, cliCaller))
	result, err := fl.registry.Execute(ctx, name, argsJSON)
	if err != nil {
		return err
	}
	ok := outcome.Err() == nil

	if err := printResult(stdout, format, name, result, ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

func printResult(w io.Writer, format render.Format, name, result string, ok bool) error {
	switch format {
	case render.FormatJSON:
		return writeJSON(w, map[string]any{"tool": name, "result": result, "ok": ok})
	case render.FormatPlain:
		text, err := render.Plain(result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, text)
		return err
	case render.FormatHTML:
		page, err := render.Page(name, result)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, page)
		return err
	default:
		_, err := fmt.Fprintln(w, result)
		return err
	}
}

// parseToolArgs turns key=value pairs into a JSON object. Values that
// parse as JSON (numbers, booleans, quoted strings) keep their type;
// anything else is a string. A single argument starting with "{" is
// taken as the whole object.
func parseToolArgs(args []string) (string, error) {
	if len(args) == 1 && strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
		var probe map[string]any
		if err := json.Unmarshal([]byte(args[0]), &probe); err != nil {
			return "", fmt.Errorf("invalid JSON arguments: %w", err)
		}
		return args[0], nil
	}

	obj := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return "", fmt.Errorf("argument %q is not key=value", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		obj[key] = v
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// pingResult is one line of runPing output.
type pingResult struct {
	Server   string `json:"server"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// runPing starts each server and checks that it lists its tools.
func runPing(ctx context.Context, stdout, stderr io.Writer, configPath string, format render.Format, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	var only string
	if len(args) > 0 {
		only = args[0]
	}

	fl, err := buildFleet(ctx, cfg, only, nil, cliLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer fl.Close()

	results := make([]pingResult, 0, len(fl.kits))
	failed := 0
	for _, kit := range fl.kits {
		start := time.Now()
		err := kit.Ping(ctx)
		r := pingResult{Server: kit.Name(), OK: err == nil, Duration: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			r.Error = err.Error()
			failed++
		}
		results = append(results, r)
	}

	if format == render.FormatJSON {
		if err := writeJSON(stdout, results); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		for _, r := range results {
			status := "ok"
			if !r.OK {
				status = "FAIL " + r.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Server, r.Duration, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed", failed, len(results))
	}
	return nil
}

// runHistory prints the latest n ledger entries and the last day's
// per-tool totals.
func runHistory(ctx context.Context, stdout io.Writer, configPath string, format render.Format, n int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("ledger is disabled in config")
	}

	store, err := ledger.NewStore(cfg.Ledger.Path, slog.New(slog.DiscardHandler))
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", cfg.Ledger.Path, err)
	}
	defer store.Close()

	entries, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	end := time.Now()
	summary, err := store.SummaryByTool(ctx, end.Add(-24*time.Hour), end)
	if err != nil {
		return err
	}

	if format == render.FormatJSON {
		return writeJSON(stdout, map[string]any{"entries": entries, "summary": summary})
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOOLKIT\tTOOL\tCALLER\tMS\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = firstLine(e.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Toolkit, e.Tool, e.Caller, e.DurationMS, result)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "LAST 24H\tTOOLKIT\tTOOL\tCALLS\tFAILURES\tAVG MS")
	for _, s := range summary {
		fmt.Fprintf(tw, "\t%s\t%s\t%d\t%d\t%d\n", s.Toolkit, s.Tool, s.Calls, s.Failures, s.AvgDurationMS)
	}
	return tw.Flush()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
