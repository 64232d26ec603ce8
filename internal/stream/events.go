// Package stream decodes the claude CLI stream-json protocol.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType enumerates the top-level stream-json event types.
type EventType string

const (
	EventAssistant EventType = "assistant"
	EventUser      EventType = "user"
	EventSystem    EventType = "system"
	EventResult    EventType = "result"
)

// BlockType enumerates message content block types.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ErrEmptyLine is returned by Decode for blank lines.
var ErrEmptyLine = errors.New("empty line")

// Event is the envelope of one stream-json line.
type Event struct {
	Type    EventType `json:"type"`
	Subtype string    `json:"subtype,omitempty"`

	// assistant / user
	Message *Message `json:"message,omitempty"`

	// result
	Result       string   `json:"result,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
	InputTokens  *int     `json:"input_tokens,omitempty"`
	OutputTokens *int     `json:"output_tokens,omitempty"`
}

// Usage holds token counts as reported on result events.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is the payload of assistant and user events.
type Message struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON accepts content given either as a block array or a plain string.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil

	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
		return nil
	case content[0] == '"':
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return err
		}
		m.Content = []ContentBlock{{Type: BlockText, Text: s}}
		return nil
	default:
		return json.Unmarshal(content, &m.Content)
	}
}

// ContentBlock is one element of a message's content array.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ToolInput holds the tool_use input fields we care about.
type ToolInput struct {
	Command     string `json:"command,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	Description string `json:"description,omitempty"`
}

// ToolInput decodes the tool_use input. Unknown shapes yield a zero value.
func (b ContentBlock) ToolInput() ToolInput {
	var in ToolInput
	if len(b.Input) > 0 {
		_ = json.Unmarshal(b.Input, &in)
	}
	return in
}

// ResultText flattens tool_result content, which is either a string or a
// list of text blocks.
func (b ContentBlock) ResultText() string {
	content := bytes.TrimSpace(b.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return ""
	}
	if content[0] == '"' {
		var s string
		if err := json.Unmarshal(content, &s); err == nil {
			return s
		}
	}
	if content[0] == '[' {
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(content, &blocks); err == nil {
			parts := make([]string, 0, len(blocks))
			for _, blk := range blocks {
				if blk.Type == string(BlockText) || blk.Text != "" {
					parts = append(parts, blk.Text)
				}
			}
			return strings.Join(parts, "\n")
		}
	}
	return string(content)
}

// Decode parses one stream-json line. Lines that are blank, not JSON, or
// have no type are returned as errors and should be skipped by the caller.
func Decode(line []byte) (*Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decoding stream event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("decoding stream event: missing type")
	}
	return &ev, nil
}

// Blocks returns the message content blocks, or nil for events without a message.
func (e *Event) Blocks() []ContentBlock {
	if e.Message == nil {
		return nil
	}
	return e.Message.Content
}

// FinalText returns the terminal text of a result event. Error results are
// prefixed with "[error] ".
func (e *Event) FinalText() string {
	if e.IsError || strings.HasPrefix(e.Subtype, "error") {
		msg := e.Result
		if msg == "" {
			msg = "Unknown error"
		}
		return "[error] " + msg
	}
	return e.Result
}

// RunUsage is the cost and token accounting of a finished run.
type RunUsage struct {
	CostUSD      *float64 `json:"cost_usd,omitempty"`
	InputTokens  *int     `json:"input_tokens,omitempty"`
	OutputTokens *int     `json:"output_tokens,omitempty"`
	NumTurns     *int     `json:"num_turns,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
}

// RunUsage extracts usage from a result event. Fields absent on the wire stay nil.
func (e *Event) RunUsage() RunUsage {
	u := RunUsage{SessionID: e.SessionID}
	switch {
	case e.TotalCostUSD != nil:
		u.CostUSD = e.TotalCostUSD
	case e.CostUSD != nil:
		u.CostUSD = e.CostUSD
	}
	if e.Usage != nil {
		in, out := e.Usage.InputTokens, e.Usage.OutputTokens
		u.InputTokens, u.OutputTokens = &in, &out
	}
	if e.InputTokens != nil {
		u.InputTokens = e.InputTokens
	}
	if e.OutputTokens != nil {
		u.OutputTokens = e.OutputTokens
	}
	if e.NumTurns > 0 {
		n := e.NumTurns
		u.NumTurns = &n
	}
	return u
}
