package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freema/desktop-assist/internal/apperror"
)

// writeScript creates an executable /bin/sh script standing in for the agent CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, string(line))
}

func (c *lineCollector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func runWithin(t *testing.T, limit time.Duration, fn func() (*RunResult, error)) (*RunResult, error) {
	t.Helper()
	type out struct {
		res *RunResult
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := fn()
		ch <- out{res, err}
	}()
	select {
	case o := <-ch:
		return o.res, o.err
	case <-time.After(limit):
		t.Fatalf("run did not return within %s", limit)
		return nil, nil
	}
}

// processGone reports whether pid no longer runs. Zombies count as gone.
func processGone(t *testing.T, pid int) bool {
	t.Helper()
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return true
	}
	// Format: pid (comm) state ...
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return false
	}
	return s[i+2] == 'Z' || s[i+2] == 'X'
}

func requireProc(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("no /proc on this system")
	}
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs(RunOptions{
		Prompt:       "open notes",
		SystemPrompt: "be careful",
		Model:        "sonnet",
		MaxTurns:     7,
		MaxBudgetUSD: 1,
	})
	got := strings.Join(args, " ")
	want := "-p open notes --output-format stream-json --verbose --no-session-persistence " +
		"--system-prompt be careful --allowedTools Bash Read --dangerously-skip-permissions " +
		"--max-turns 7 --max-budget-usd 1.00 --model sonnet"
	if got != want {
		t.Fatalf("args:\n got %q\nwant %q", got, want)
	}

	bare := strings.Join(BuildArgs(RunOptions{Prompt: "x", AllowedTools: []string{"Read"}}), " ")
	if strings.Contains(bare, "--model") || strings.Contains(bare, "--max-turns") {
		t.Errorf("unset options emitted: %q", bare)
	}
	if !strings.Contains(bare, "--output-format stream-json --verbose") {
		t.Errorf("stream-json without verbose: %q", bare)
	}
	if !strings.Contains(bare, "--allowedTools Read --dangerously") {
		t.Errorf("custom allowlist ignored: %q", bare)
	}
}

func TestRunStreamsLinesInOrder(t *testing.T) {
	script := writeScript(t, `
echo '{"type":"system","subtype":"init"}'
echo 'not json'
printf '%s\n' "{\"type\":\"result\",\"result\":\"$FAKE_RESULT\"}"
printf 'no newline'
`)
	var lines lineCollector
	started := 0
	res, err := NewClaudeRunner(script).Run(context.Background(), RunOptions{
		Prompt:      "hi",
		Env:         []string{"FAKE_RESULT=done"},
		GracePeriod: time.Second,
		OnStart:     func(pid int) { started = pid },
		OnLine:      lines.add,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.Cancelled || res.TimedOut {
		t.Fatalf("result = %+v", res)
	}
	if started == 0 {
		t.Error("OnStart not called")
	}
	want := []string{`{"type":"system","subtype":"init"}`, "not json", `{"type":"result","result":"done"}`, "no newline"}
	got := lines.get()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}
}

func TestRunStderrFloodDoesNotDeadlock(t *testing.T) {
	script := writeScript(t, `
head -c 204800 /dev/zero | tr '\0' 'e' >&2
echo '{"type":"result","result":"ok"}'
`)
	var lines lineCollector
	res, err := runWithin(t, 20*time.Second, func() (*RunResult, error) {
		return NewClaudeRunner(script).Run(context.Background(), RunOptions{OnLine: lines.add, GracePeriod: time.Second})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lines.get()) != 1 {
		t.Fatalf("lines = %q", lines.get())
	}
	if len(res.Stderr) != stderrTail {
		t.Errorf("stderr tail = %d bytes, want %d", len(res.Stderr), stderrTail)
	}
}

func TestRunExitCodeAndStderr(t *testing.T) {
	script := writeScript(t, "echo boom >&2\nexit 3")
	res, err := NewClaudeRunner(script).Run(context.Background(), RunOptions{GracePeriod: time.Second})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 || res.Stderr != "boom\n" {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunMissingExecutable(t *testing.T) {
	for _, bin := range []string{
		filepath.Join(t.TempDir(), "claude"),
		"desktop-assist-no-such-binary",
	} {
		res, err := NewClaudeRunner(bin).Run(context.Background(), RunOptions{Prompt: "x"})
		if !errors.Is(err, apperror.ErrNotInstalled) {
			t.Errorf("%s: err = %v, want ErrNotInstalled", bin, err)
		}
		if res != nil {
			t.Errorf("%s: result should be nil, got %+v", bin, res)
		}
	}
}

func TestRunCancelKillsDescendants(t *testing.T) {
	requireProc(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, `
sleep 60 &
echo $! > `+pidFile+`
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"sleep 60"}}]}}'
wait
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var lines lineCollector
	grace := 2 * time.Second
	start := time.Now()
	res, err := runWithin(t, 15*time.Second, func() (*RunResult, error) {
		return NewClaudeRunner(script).Run(ctx, RunOptions{
			GracePeriod: grace,
			OnLine: func(line []byte) {
				lines.add(line)
				cancel()
			},
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Cancelled || res.TimedOut {
		t.Fatalf("result = %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 3*grace {
		t.Errorf("cancel took %s", elapsed)
	}
	if len(lines.get()) != 1 {
		t.Errorf("lines after cancel: %q", lines.get())
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("reading child pid: %v", err)
	}
	child, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	if child <= 0 {
		t.Fatalf("bad child pid %q", data)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !processGone(t, child) {
		if time.Now().After(deadline) {
			t.Fatalf("descendant %d still running after cancel", child)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunTimeout(t *testing.T) {
	script := writeScript(t, "sleep 60")
	res, err := runWithin(t, 15*time.Second, func() (*RunResult, error) {
		return NewClaudeRunner(script).Run(context.Background(), RunOptions{
			Timeout:     200 * time.Millisecond,
			GracePeriod: time.Second,
		})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut || res.Cancelled {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunLingeringDescendantIsReaped(t *testing.T) {
	requireProc(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, `
sleep 60 &
echo $! > `+pidFile+`
echo '{"type":"result","result":"ok"}'
exit 0
`)
	var lines lineCollector
	res, err := runWithin(t, 15*time.Second, func() (*RunResult, error) {
		return NewClaudeRunner(script).Run(context.Background(), RunOptions{OnLine: lines.add, GracePeriod: 300 * time.Millisecond})
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 || res.Cancelled || len(lines.get()) != 1 {
		t.Fatalf("result = %+v, lines = %q", res, lines.get())
	}

	data, _ := os.ReadFile(pidFile)
	child, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	deadline := time.Now().Add(2 * time.Second)
	for child > 0 && !processGone(t, child) {
		if time.Now().After(deadline) {
			t.Fatalf("descendant %d survived a completed run", child)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	g := newProcessGroup(999999, 50*time.Millisecond)
	g.Terminate()
	g.Terminate()
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(4)
	b.Write([]byte("ab"))
	b.Write([]byte("cdef"))
	if got := b.String(); got != "cdef" {
		t.Fatalf("tail = %q", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("claude")
	r.Register("claude", NewClaudeRunner("claude"))
	if _, err := r.Get(""); err != nil {
		t.Fatalf("default runner: %v", err)
	}
	if _, err := r.Get("codex"); err == nil {
		t.Fatal("expected error for unknown CLI")
	}
	if got := r.Available(); len(got) != 1 || got[0] != "claude" {
		t.Fatalf("Available = %v", got)
	}
}
