package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/freema/desktop-assist/internal/capability"
	"github.com/freema/desktop-assist/internal/cli"
	"github.com/freema/desktop-assist/internal/platform"
)

// fakeAgent writes a /bin/sh stand-in for the agent CLI that prints body.
func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func processOrchestrator(t *testing.T, binary string) (*Orchestrator, string) {
	t.Helper()
	dir := t.TempDir()
	o := NewOrchestrator(cli.NewClaudeRunner(binary), capability.NewBuiltinRegistry(),
		platform.Info{Name: "Linux", Python: "python3"}, Sinks{}, Config{
			Binary:            binary,
			GracePeriod:       200 * time.Millisecond,
			SessionDir:        dir,
			InstructionsStart: dir,
			HomeDir:           dir,
		})
	return o, dir
}

func TestRunAgainstProcess(t *testing.T) {
	bin := fakeAgent(t, "cat <<'EOF'\n"+
		lineToolUse+"\n"+
		"warming up\n"+
		lineToolResult+"\n"+
		lineResult+"\n"+
		"EOF")
	o, dir := processOrchestrator(t, bin)

	res, err := o.Run(context.Background(), Request{Prompt: "open TextEdit", Log: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != OutcomeCompleted || res.Text != "TextEdit is open." || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	recs := readSession(t, dir, res.SessionID)
	if got := kinds(recs); got != "start,text,tool_call,tool_result,done" {
		t.Fatalf("record kinds = %s", got)
	}
}

func TestRunProcessExitCode(t *testing.T) {
	bin := fakeAgent(t, "echo 'rate limited' >&2\nexit 3")
	o, _ := processOrchestrator(t, bin)

	res, err := o.Run(context.Background(), Request{Prompt: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeFailed || res.ExitCode != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Text, "[error]") || !strings.Contains(res.Text, "rate limited") {
		t.Errorf("text = %q", res.Text)
	}
}

func TestRunProcessCancelled(t *testing.T) {
	bin := fakeAgent(t, "echo '"+lineToolUse+"'\nexec sleep 30")
	o, dir := processOrchestrator(t, bin)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	start := time.Now()
	res, err := o.Run(ctx, Request{Prompt: "wait", Log: true})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel took %s", elapsed)
	}
	if res.Outcome != OutcomeCancelled || res.Text != MsgInterrupted {
		t.Fatalf("result = %+v", res)
	}
	recs := readSession(t, dir, res.SessionID)
	assertBracketed(t, recs, MsgInterrupted)
}
