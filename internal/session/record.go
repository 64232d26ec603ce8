// Package session persists agent runs as append-only JSONL logs.
package session

import (
	"math"
	"time"

	"github.com/freema/desktop-assist/internal/stream"
)

// Kind is the value of a record's "event" field.
type Kind string

const (
	KindStart      Kind = "start"
	KindResume     Kind = "resume"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindText       Kind = "text"
	KindDone       Kind = "done"
)

// PreviewLen is the rune limit for free-text fields.
const PreviewLen = 500

// Record is one line of a session log. Only the fields of its kind are set;
// numeric fields are pointers so zero values survive the round trip.
type Record struct {
	Event     Kind      `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	// start
	Prompt   string `json:"prompt,omitempty"`
	Model    string `json:"model,omitempty"`
	MaxTurns *int   `json:"max_turns,omitempty"`

	// resume
	PreviousSession string `json:"previous_session,omitempty"`

	// tool_call, tool_result
	Step    *int   `json:"step,omitempty"`
	Tool    string `json:"tool,omitempty"`
	ToolID  string `json:"tool_id,omitempty"`
	Command string `json:"command,omitempty"`

	// tool_result
	IsError       *bool    `json:"is_error,omitempty"`
	ElapsedS      *float64 `json:"elapsed_s,omitempty"`
	OutputPreview *string  `json:"output_preview,omitempty"`

	// text
	Text string `json:"text,omitempty"`

	// done
	Steps         *int     `json:"steps,omitempty"`
	ResultPreview *string  `json:"result_preview,omitempty"`
	CostUSD       *float64 `json:"cost_usd,omitempty"`
	InputTokens   *int     `json:"input_tokens,omitempty"`
	OutputTokens  *int     `json:"output_tokens,omitempty"`
	NumTurns      *int     `json:"num_turns,omitempty"`
}

// StepValue returns Step or 0.
func (r Record) StepValue() int { return deref(r.Step) }

// StepsValue returns Steps or 0.
func (r Record) StepsValue() int { return deref(r.Steps) }

// Elapsed returns ElapsedS as a duration, and false when it was not recorded.
func (r Record) Elapsed() (time.Duration, bool) {
	if r.ElapsedS == nil {
		return 0, false
	}
	return time.Duration(math.Round(*r.ElapsedS*1000)) * time.Millisecond, true
}

// Failed reports whether a tool_result record carries an error.
func (r Record) Failed() bool { return r.IsError != nil && *r.IsError }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func ptr[T any](v T) *T { return &v }

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= PreviewLen {
		return s
	}
	return string(r[:PreviewLen]) + "..."
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// NewStart builds a start record.
func NewStart(prompt, model string, maxTurns int) Record {
	return Record{Event: KindStart, Timestamp: now(), Prompt: prompt, Model: model, MaxTurns: ptr(maxTurns)}
}

// NewResume builds a resume record.
func NewResume(previous string) Record {
	return Record{Event: KindResume, Timestamp: now(), PreviousSession: previous}
}

// NewToolCall builds a tool_call record. The command is truncated.
func NewToolCall(step int, tool, toolID, command string) Record {
	return Record{
		Event:     KindToolCall,
		Timestamp: now(),
		Step:      ptr(step),
		Tool:      tool,
		ToolID:    toolID,
		Command:   truncate(command),
	}
}

// NewToolResult builds a tool_result record. A zero elapsed means the call
// was never observed and is omitted.
func NewToolResult(step int, toolID string, isError bool, output string, elapsed time.Duration) Record {
	rec := Record{
		Event:         KindToolResult,
		Timestamp:     now(),
		Step:          ptr(step),
		ToolID:        toolID,
		IsError:       ptr(isError),
		OutputPreview: ptr(truncate(output)),
	}
	if elapsed > 0 {
		rec.ElapsedS = ptr(seconds(elapsed))
	}
	return rec
}

// NewText builds a text record.
func NewText(text string) Record {
	return Record{Event: KindText, Timestamp: now(), Text: truncate(text)}
}

// NewDone builds the terminal record.
func NewDone(steps int, elapsed time.Duration, result string, usage stream.RunUsage) Record {
	return Record{
		Event:         KindDone,
		Timestamp:     now(),
		Steps:         ptr(steps),
		ElapsedS:      ptr(seconds(elapsed)),
		ResultPreview: ptr(truncate(result)),
		CostUSD:       usage.CostUSD,
		InputTokens:   usage.InputTokens,
		OutputTokens:  usage.OutputTokens,
		NumTurns:      usage.NumTurns,
	}
}

func now() time.Time { return time.Now().UTC() }
