package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/freema/desktop-assist/internal/apperror"
)

// stderrTail is how much of the child's stderr is kept for error messages.
const stderrTail = 64 * 1024

// ClaudeRunner executes the Claude Code CLI.
type ClaudeRunner struct {
	binaryPath string
}

// NewClaudeRunner creates a runner for the Claude Code CLI.
func NewClaudeRunner(binaryPath string) *ClaudeRunner {
	return &ClaudeRunner{binaryPath: binaryPath}
}

// Binary returns the configured executable name or path.
func (c *ClaudeRunner) Binary() string { return c.binaryPath }

// Command returns the full argv a run with opts would execute.
func (c *ClaudeRunner) Command(opts RunOptions) []string {
	return append([]string{c.binaryPath}, BuildArgs(opts)...)
}

// BuildArgs assembles the CLI arguments. The stream-json output format is
// only accepted together with --verbose, so both are always emitted.
func BuildArgs(opts RunOptions) []string {
	args := []string{
		"-p", opts.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--no-session-persistence",
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	tools := opts.AllowedTools
	if len(tools) == 0 {
		tools = DefaultAllowedTools
	}
	args = append(args, "--allowedTools")
	args = append(args, tools...)
	args = append(args, "--dangerously-skip-permissions")
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(opts.MaxBudgetUSD, 'f', 2, 64))
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	return args
}

// Run spawns the CLI in its own process group and streams its stdout to
// opts.OnLine one line at a time. The whole process group is torn down before
// Run returns, on every path. Cancellation and timeout are reported in the
// result; an error is returned only when the process could not be started.
func (c *ClaudeRunner) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	path, err := exec.LookPath(c.binaryPath)
	if err != nil {
		return nil, apperror.NotInstalled(c.binaryPath, err)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd := exec.Command(path, BuildArgs(opts)...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW, stdin)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotInstalled(c.binaryPath, err)
		}
		return nil, fmt.Errorf("starting %s: %w", c.binaryPath, err)
	}

	// The child holds its own copies now.
	closeAll(stdoutW, stderrW, stdin)

	pid := cmd.Process.Pid
	grace := opts.grace()
	group := newProcessGroup(pid, grace)
	slog.Debug("agent CLI started", "pid", pid, "binary", path)
	if opts.OnStart != nil {
		opts.OnStart(pid)
	}

	stderrBuf := newTailBuffer(stderrTail)
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		_, _ = io.Copy(stderrBuf, stderrR)
	}()

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	// The watcher turns cancellation into teardown and unblocks the read below.
	// A descendant may keep stdout open after the child exits, so the read is
	// also cut a grace period after exit.
	loopDone := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-runCtx.Done():
			_ = stdoutR.SetReadDeadline(time.Now())
			group.Terminate()
		case <-waitDone:
			select {
			case <-loopDone:
			case <-time.After(grace):
				_ = stdoutR.SetReadDeadline(time.Now())
			case <-runCtx.Done():
				_ = stdoutR.SetReadDeadline(time.Now())
				group.Terminate()
			}
		case <-loopDone:
		}
	}()

	readLines(runCtx, stdoutR, opts.OnLine)
	close(loopDone)

	result := &RunResult{}
	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
		} else {
			result.TimedOut = true
		}
	}

	if !result.Cancelled && !result.TimedOut {
		select {
		case <-waitDone:
		case <-time.After(grace):
			slog.Warn("agent CLI did not exit after closing stdout", "pid", pid, "grace", grace)
		}
	}

	// Reap anything left in the group, including descendants of a child
	// that already exited.
	group.Terminate()
	select {
	case <-waitDone:
	case <-time.After(grace):
		slog.Warn("agent CLI not reaped after teardown", "pid", pid)
	}
	<-watcherDone
	_ = stdoutR.Close()

	select {
	case <-drainDone:
	case <-time.After(grace):
		_ = stderrR.Close()
		<-drainDone
	}
	_ = stderrR.Close()

	result.Duration = time.Since(startTime)
	result.Stderr = stderrBuf.String()
	result.ExitCode = -1
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	slog.Debug("agent CLI finished",
		"pid", pid,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
		"cancelled", result.Cancelled,
		"timed_out", result.TimedOut,
	)
	return result, nil
}

// readLines reads r one line at a time until EOF, a read error, or ctx is
// done. Context is checked before each line is handed on, so nothing is
// dispatched once cancellation has been observed.
func readLines(ctx context.Context, r io.Reader, onLine func([]byte)) {
	br := bufio.NewReader(r)
	for {
		if ctx.Err() != nil {
			return
		}
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && ctx.Err() == nil && onLine != nil {
			if err == nil || errors.Is(err, io.EOF) {
				onLine(bytes.TrimRight(line, "\r\n"))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("reading agent output failed", "error", err)
			}
			return
		}
	}
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			_ = c.Close()
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
