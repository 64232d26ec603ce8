package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/freema/desktop-assist/internal/session"
	"github.com/freema/desktop-assist/internal/stream"
)

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{500, "500"},
		{1000, "1.0k"},
		{15200, "15.2k"},
		{1_300_000, "1.3M"},
	}
	for _, tt := range tests {
		if got := FormatTokens(tt.n); got != tt.want {
			t.Errorf("FormatTokens(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestBufferNeverColoured(t *testing.T) {
	var buf bytes.Buffer
	f := New(&buf, true)
	f.ToolCall(1, "Bash", "ls", "ls -la")
	f.ToolResult(true, 1500*time.Millisecond, "permission denied")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("escape sequences written to a buffer: %q", buf.String())
	}
	want := "\n[1] Bash: ls\n    $ ls -la\n    x error (1.5s): permission denied\n"
	if buf.String() != want {
		t.Fatalf("output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestQuietHidesNarration(t *testing.T) {
	var buf bytes.Buffer
	f := NewPlain(&buf, false)
	f.Text("thinking out loud")
	f.ToolResult(false, 0, "big output")
	if got := buf.String(); got != "    done\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestDoneLine(t *testing.T) {
	var buf bytes.Buffer
	in, out, cost := 15200, 500, 0.0123
	NewPlain(&buf, false).Done(1, 2500*time.Millisecond, stream.RunUsage{InputTokens: &in, OutputTokens: &out, CostUSD: &cost})
	want := "\ndone (1 tool call, 2.5s, 15.2k in / 500 out, $0.0123)\n"
	if buf.String() != want {
		t.Fatalf("done = %q, want %q", buf.String(), want)
	}
}

func TestReplayMatchesLive(t *testing.T) {
	dir := t.TempDir()
	l, err := session.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	cmd := "python3 -c \"\nfrom desktop_assist.filesystem import list_dir\nprint(list_dir('.'))\n\""

	var live bytes.Buffer
	lf := NewPlain(&live, false)
	lf.Start("list files", "")
	l.Start("list files", "", 30)
	lf.ToolCall(1, "Bash", stream.SummarizeCommand(cmd), cmd)
	l.ToolCall(1, "Bash", "tu_1", cmd)
	lf.ToolResult(false, 1200*time.Millisecond, "a.txt")
	l.ToolResult(1, "tu_1", false, "a.txt", 1200*time.Millisecond)
	l.Close()

	var replay bytes.Buffer
	if err := session.Replay(dir, l.ID(), NewPlain(&replay, false)); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replay.String() != live.String() {
		t.Fatalf("replay differs from live\nlive:   %q\nreplay: %q", live.String(), replay.String())
	}
}
