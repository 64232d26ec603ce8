package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

const commandSummaryLen = 120

// Summarize returns the short human-readable form of a tool call.
// Shell commands are condensed, file-view calls show the path, anything
// else falls back to the compact JSON input.
func Summarize(b ContentBlock) string {
	in := b.ToolInput()
	switch {
	case in.Command != "":
		return SummarizeCommand(in.Command)
	case in.FilePath != "":
		return in.FilePath
	case len(b.Input) > 0:
		var buf bytes.Buffer
		if err := json.Compact(&buf, b.Input); err == nil {
			return buf.String()
		}
		return string(b.Input)
	default:
		return "{}"
	}
}

// Detail returns the value logged as the tool call's command: the shell
// command, else the viewed path, else empty.
func Detail(b ContentBlock) string {
	in := b.ToolInput()
	if in.Command != "" {
		return in.Command
	}
	return in.FilePath
}

// SummarizeCommand condenses a shell command. For inline python snippets the
// import boilerplate is dropped and the remaining calls are joined with " ; ".
func SummarizeCommand(command string) string {
	command = strings.TrimSpace(command)
	if strings.HasPrefix(command, "python3 -c") || strings.HasPrefix(command, "python -c") {
		var calls []string
		for _, ln := range strings.Split(command, "\n") {
			ln = strings.TrimSpace(ln)
			if ln == "" || hasAnyPrefix(ln, "from ", "import ", "python", `"`, "'") {
				continue
			}
			calls = append(calls, ln)
		}
		if len(calls) > 0 {
			return strings.Join(calls, " ; ")
		}
	}
	return Truncate(command, commandSummaryLen)
}

// Truncate trims s and cuts it to max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
