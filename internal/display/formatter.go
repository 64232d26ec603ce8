// Package display renders run progress for humans. Live runs and session
// replay go through the same Formatter.
package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/freema/desktop-assist/internal/session"
	"github.com/freema/desktop-assist/internal/stream"
)

const (
	previewLen = 200
	verboseLen = 300
)

// Formatter writes one progress line per event.
type Formatter struct {
	w       io.Writer
	color   bool
	verbose bool
	st      styles
}

// New returns a formatter for w. Colour is used only when w is a terminal
// and NO_COLOR is unset.
func New(w io.Writer, verbose bool) *Formatter {
	return newFormatter(w, verbose, supportsColor(w))
}

// NewPlain returns a formatter that never emits escape sequences.
func NewPlain(w io.Writer, verbose bool) *Formatter {
	return newFormatter(w, verbose, false)
}

func newFormatter(w io.Writer, verbose, color bool) *Formatter {
	return &Formatter{
		w:       w,
		color:   color,
		verbose: verbose,
		st:      newStyles(lipgloss.NewRenderer(w)),
	}
}

func supportsColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func (f *Formatter) paint(s lipgloss.Style, text string) string {
	if !f.color {
		return text
	}
	return s.Render(text)
}

func (f *Formatter) println(format string, args ...any) {
	fmt.Fprintf(f.w, format+"\n", args...)
}

// Start prints the run header.
func (f *Formatter) Start(prompt, model string) {
	f.println("%s %s", f.paint(f.st.bold, "desktop-assist"), f.paint(f.st.dim, "starting agent..."))
	f.println("  prompt: %s", f.paint(f.st.title, prompt))
	if model != "" {
		f.println("  model: %s", f.paint(f.st.dim, model))
	}
}

// Resume notes which session a run continues.
func (f *Formatter) Resume(previous string) {
	f.println("  resuming: %s", f.paint(f.st.dim, previous))
}

// ToolCall prints "[step] tool: summary". In verbose mode the raw command follows.
func (f *Formatter) ToolCall(step int, tool, summary, command string) {
	f.println("\n%s %s: %s",
		f.paint(f.st.step, fmt.Sprintf("[%d]", step)),
		f.paint(f.st.bold, tool),
		f.paint(f.st.dim, summary))
	if f.verbose && command != "" {
		f.println("    %s", f.paint(f.st.dim, "$ "+stream.Truncate(command, verboseLen)))
	}
}

// ToolResult prints the outcome of a tool call. A zero elapsed is not shown.
func (f *Formatter) ToolResult(isError bool, elapsed time.Duration, output string) {
	timing := ""
	if elapsed > 0 {
		timing = " " + f.paint(f.st.dim, fmt.Sprintf("(%.1fs)", elapsed.Seconds()))
	}
	if isError {
		f.println("    %s%s: %s", f.paint(f.st.err, "x error"), timing, f.paint(f.st.dim, stream.Truncate(output, previewLen)))
		return
	}
	line := "    " + f.paint(f.st.ok, "done") + timing
	if f.verbose {
		if p := stream.Truncate(output, previewLen); p != "" {
			line += " " + f.paint(f.st.dim, p)
		}
	}
	f.println("%s", line)
}

// Text prints assistant narration, only in verbose mode.
func (f *Formatter) Text(text string) {
	text = strings.TrimSpace(text)
	if text == "" || !f.verbose {
		return
	}
	f.println("  %s", f.paint(f.st.dim, stream.Truncate(text, verboseLen)))
}

// Done prints the run summary line.
func (f *Formatter) Done(steps int, elapsed time.Duration, usage stream.RunUsage) {
	plural := "s"
	if steps == 1 {
		plural = ""
	}
	line := fmt.Sprintf("\n%s (%d tool call%s, %.1fs", f.paint(f.st.ok, "done"), steps, plural, elapsed.Seconds())
	if usage.InputTokens != nil || usage.OutputTokens != nil {
		line += fmt.Sprintf(", %s in / %s out", FormatTokens(deref(usage.InputTokens)), FormatTokens(deref(usage.OutputTokens)))
	}
	if usage.CostUSD != nil {
		line += fmt.Sprintf(", $%.4f", *usage.CostUSD)
	}
	f.println("%s)", line)
}

// Interrupted prints the cancellation notice.
func (f *Formatter) Interrupted() {
	f.println("\n%s agent stopped.", f.paint(f.st.warn, "interrupted"))
}

// TimedOut prints the timeout notice.
func (f *Formatter) TimedOut(after time.Duration) {
	f.println("\n%s after %s, agent stopped.", f.paint(f.st.warn, "timed out"), after)
}

// SessionPath prints where the session log was written.
func (f *Formatter) SessionPath(path string) {
	f.println("  session log: %s", f.paint(f.st.dim, path))
}

// HandleRecord renders a stored session record the way the live run printed it.
func (f *Formatter) HandleRecord(rec session.Record) error {
	switch rec.Event {
	case session.KindStart:
		f.Start(rec.Prompt, rec.Model)
	case session.KindResume:
		f.Resume(rec.PreviousSession)
	case session.KindToolCall:
		summary := "{}"
		if rec.Command != "" {
			summary = stream.SummarizeCommand(rec.Command)
		}
		f.ToolCall(rec.StepValue(), rec.Tool, summary, rec.Command)
	case session.KindToolResult:
		elapsed, _ := rec.Elapsed()
		out := ""
		if rec.OutputPreview != nil {
			out = *rec.OutputPreview
		}
		f.ToolResult(rec.Failed(), elapsed, out)
	case session.KindText:
		f.Text(rec.Text)
	case session.KindDone:
		elapsed, _ := rec.Elapsed()
		f.Done(rec.StepsValue(), elapsed, stream.RunUsage{
			CostUSD:      rec.CostUSD,
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			NumTurns:     rec.NumTurns,
		})
		if rec.ResultPreview != nil {
			f.println("  result: %s", *rec.ResultPreview)
		}
	}
	return nil
}

// FormatTokens renders a token count compactly: 500, 1.0k, 15.2k, 1.3M.
func FormatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
