package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nugget/city-bridge/internal/config"
)

// Default timing for stdio transports.
const (
	DefaultReadTimeout = 10 * time.Second
	DefaultStopTimeout = 5 * time.Second
)

// StdioConfig configures a stdio MCP transport that communicates with
// a subprocess over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). These are appended to the current
	// process environment.
	Env []string

	// Dir is the working directory of the subprocess. Empty means the
	// current directory, which matters for servers launched as a
	// relative script path.
	Dir string

	// StopTimeout is how long Close waits after requesting graceful
	// termination before killing the subprocess (default 5s).
	StopTimeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// process is one spawned server. A StdioTransport replaces it wholesale
// when the previous one has exited, so a dead handle is never reused.
type process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines chan []byte   // closed when stdout reaches EOF
	quit  chan struct{} // closed by stop; the reader discards from then on
	done  chan struct{} // closed once the process has been reaped

	waitErr error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// StdioTransport communicates with an MCP server running as a
// subprocess. JSON-RPC messages are newline-delimited on stdin/stdout;
// stderr is drained to the debug log.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu   sync.Mutex
	proc *process
}

// NewStdioTransport creates a stdio transport for the given config.
// The subprocess is not started until the first Start call.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
	}
}

// Start launches the subprocess if none is running or the previous one
// has exited. The subprocess lifecycle is independent of ctx: it
// survives individual request timeouts and ends only on Close.
func (t *StdioTransport) Start(_ context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc != nil {
		if !t.proc.exited() {
			return false, nil
		}
		t.logger.Info("MCP subprocess exited, respawning",
			"command", t.config.Command,
			"error", t.proc.waitErr,
		)
		t.proc.stdin.Close()
		close(t.proc.quit)
		t.proc = nil
	}

	if t.config.Command == "" {
		return false, transportError("start MCP server: no command configured", nil)
	}

	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	cmd.Dir = t.config.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return false, transportError("create stdin pipe", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return false, transportError("create stdout pipe", err)
	}

	// Capture stderr for logging; it is not part of the protocol.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return false, transportError("create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		stdin.Close()
		return false, transportError(fmt.Sprintf("start MCP server %s", t.config.Command), err)
	}

	p := &process{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan []byte, 16),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	t.proc = p

	go t.drainStderr(stderrPipe)
	go t.readLoop(p, stdout)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return true, nil
}

// readLoop forwards stdout lines to p.lines until EOF, then reaps the
// process. Reaping only after stdout is drained keeps Wait from closing
// the pipe under an in-progress read.
func (t *StdioTransport) readLoop(p *process, stdout io.Reader) {
	reader := bufio.NewReaderSize(stdout, 1<<20) // 1 MiB buffer for large responses
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case p.lines <- bytes.TrimRight(line, "\r\n"):
			case <-p.quit:
			}
		}
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("MCP subprocess stdout read failed", "error", err)
			}
			break
		}
	}
	close(p.lines)

	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// drainStderr reads stderr lines and logs them at debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("MCP subprocess stderr", "line", scanner.Text())
	}
}

// current returns the live process, or a transport error when there
// is none.
func (t *StdioTransport) current() (*process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return nil, transportError("MCP server is not running", nil)
	}
	return t.proc, nil
}

// WriteLine writes payload as one JSON line to the subprocess stdin.
// Pipes to a child process are unbuffered, so a successful write is
// already flushed.
func (t *StdioTransport) WriteLine(_ context.Context, payload any) error {
	p, err := t.current()
	if err != nil {
		return err
	}
	if p.exited() {
		return transportError("MCP server is not running", p.waitErr)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	t.logger.Log(context.Background(), config.LevelTrace, "MCP request", "line", string(data))

	if _, err := p.stdin.Write(append(data, '\n')); err != nil {
		return transportError("Communication error", err)
	}
	return nil
}

// ReadLine waits up to timeout for the next stdout line. EOF and blank
// lines are reported as empty responses; an expired deadline is a
// timeout. A timed-out request is abandoned, not cancelled: the
// subprocess keeps running and its late reply stays queued.
func (t *StdioTransport) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	p, err := t.current()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-p.lines:
		if !ok || len(bytes.TrimSpace(line)) == 0 {
			return nil, emptyResponseError()
		}
		t.logger.Log(ctx, config.LevelTrace, "MCP response", "line", string(line))
		return line, nil
	case <-timer.C:
		return nil, timeoutError()
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for MCP server response: %w", ctx.Err())
	}
}

// Running reports whether a subprocess is currently alive.
func (t *StdioTransport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc != nil && !t.proc.exited()
}

// Close terminates the subprocess: stdin is closed and SIGTERM sent,
// then after StopTimeout the process is killed. The process is always
// reaped. Close never fails; problems are logged.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	p := t.proc
	t.proc = nil
	t.mu.Unlock()

	if p == nil {
		return nil
	}

	close(p.quit)
	p.stdin.Close()

	if p.exited() {
		return nil
	}

	pid := p.cmd.Process.Pid
	t.logger.Info("stopping MCP subprocess", "pid", pid)

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.logger.Debug("MCP subprocess terminate signal failed", "pid", pid, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(t.config.StopTimeout):
	}

	t.logger.Warn("MCP subprocess did not exit gracefully, killing", "pid", pid)
	_ = p.cmd.Process.Kill()

	select {
	case <-p.done:
	case <-time.After(t.config.StopTimeout):
		// A grandchild may still hold stdout open; the reader will reap
		// the process once it lets go.
		t.logger.Warn("MCP subprocess not reaped after kill", "pid", pid)
	}
	return nil
}
