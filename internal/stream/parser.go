package stream

import (
	"time"
)

// ActionKind classifies what a parsed line asks the orchestrator to do.
type ActionKind string

const (
	ActionText       ActionKind = "text"
	ActionToolCall   ActionKind = "tool_call"
	ActionToolResult ActionKind = "tool_result"
	ActionFinal      ActionKind = "final"
)

// Tool call statuses.
const (
	StatusOpen    = "open"
	StatusOK      = "ok"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// ToolCallRecord correlates a tool_use with its tool_result.
type ToolCallRecord struct {
	ID      string
	Tool    string
	Step    int
	Summary string
	// Detail is the raw command or viewed path, empty for other inputs.
	Detail  string
	Started time.Time
	Ended   time.Time
	Status  string
}

// Elapsed is the time between call and result, zero while still open.
func (r *ToolCallRecord) Elapsed() time.Duration {
	if r.Ended.IsZero() {
		return 0
	}
	return r.Ended.Sub(r.Started)
}

// Action is one unit of work extracted from a stream line.
type Action struct {
	Kind ActionKind
	Step int

	// ActionText: assistant narration. ActionFinal: terminal result text.
	Text string

	// ActionToolCall and ActionToolResult. Record is nil for results whose
	// tool_use was never seen.
	Record    *ToolCallRecord
	ToolUseID string
	IsError   bool
	Output    string

	// ActionFinal
	Usage RunUsage
}

// Advance is the pure step transition: it decodes one line and returns the
// event together with the step count after counting its tool_use blocks.
// Undecodable lines return the error and leave the step unchanged.
func Advance(step int, line []byte) (*Event, int, error) {
	ev, err := Decode(line)
	if err != nil {
		return nil, step, err
	}
	for _, b := range ev.Blocks() {
		if b.Type == BlockToolUse {
			step++
		}
	}
	return ev, step, nil
}

// Parser turns stream lines into actions and tracks open tool calls.
// It is not safe for concurrent use.
type Parser struct {
	step    int
	dropped int
	open    map[string]*ToolCallRecord
	order   []string
	now     func() time.Time
}

// NewParser creates a parser with the step counter at zero.
func NewParser() *Parser {
	return &Parser{
		open: make(map[string]*ToolCallRecord),
		now:  time.Now,
	}
}

// Step returns the number of tool_use blocks seen so far.
func (p *Parser) Step() int { return p.step }

// Dropped returns the number of non-blank lines that failed to decode.
func (p *Parser) Dropped() int { return p.dropped }

// Feed parses one line. Malformed lines produce no actions.
func (p *Parser) Feed(line []byte) []Action {
	ev, _, err := Advance(p.step, line)
	if err != nil {
		if err != ErrEmptyLine {
			p.dropped++
		}
		return nil
	}

	switch ev.Type {
	case EventResult:
		return []Action{{
			Kind:  ActionFinal,
			Step:  p.step,
			Text:  ev.FinalText(),
			Usage: ev.RunUsage(),
		}}
	case EventAssistant, EventUser:
	default:
		return nil
	}

	var actions []Action
	for _, b := range ev.Blocks() {
		switch b.Type {
		case BlockToolUse:
			actions = append(actions, p.toolUse(b))
		case BlockToolResult:
			actions = append(actions, p.toolResult(b))
		case BlockText:
			if ev.Type == EventAssistant && b.Text != "" {
				actions = append(actions, Action{Kind: ActionText, Step: p.step, Text: b.Text})
			}
		}
	}
	return actions
}

func (p *Parser) toolUse(b ContentBlock) Action {
	p.step++
	rec := &ToolCallRecord{
		ID:      b.ID,
		Tool:    b.Name,
		Step:    p.step,
		Summary: Summarize(b),
		Detail:  Detail(b),
		Started: p.now(),
		Status:  StatusOpen,
	}
	if rec.Tool == "" {
		rec.Tool = "?"
	}
	if _, exists := p.open[b.ID]; !exists {
		p.order = append(p.order, b.ID)
	}
	p.open[b.ID] = rec
	return Action{Kind: ActionToolCall, Step: rec.Step, Record: rec, ToolUseID: b.ID}
}

func (p *Parser) toolResult(b ContentBlock) Action {
	a := Action{
		Kind:      ActionToolResult,
		Step:      p.step,
		ToolUseID: b.ToolUseID,
		IsError:   b.IsError,
		Output:    b.ResultText(),
	}
	rec, ok := p.open[b.ToolUseID]
	if !ok {
		return a
	}
	delete(p.open, b.ToolUseID)
	rec.Ended = p.now()
	rec.Status = StatusOK
	if b.IsError {
		rec.Status = StatusError
	}
	a.Step = rec.Step
	a.Record = rec
	return a
}

// Close finalizes every tool call still waiting for a result as unknown and
// returns them in call order.
func (p *Parser) Close() []*ToolCallRecord {
	var out []*ToolCallRecord
	now := p.now()
	for _, id := range p.order {
		rec, ok := p.open[id]
		if !ok {
			continue
		}
		rec.Status = StatusUnknown
		rec.Ended = now
		out = append(out, rec)
		delete(p.open, id)
	}
	p.order = nil
	return out
}
