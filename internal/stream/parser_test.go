package stream

import (
	"testing"
	"time"
)

const (
	lineToolUse = `{"type":"assistant","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"Listing files."},` +
		`{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"python3 -c \"\nfrom desktop_assist.filesystem import list_dir\nprint(list_dir('/tmp'))\n\""}}]}}`
	lineToolResult = `{"type":"user","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"tu_1","content":"a.txt\nb.txt","is_error":false}]}}`
	lineResult = `{"type":"result","subtype":"success","is_error":false,"result":"done",` +
		`"total_cost_usd":0.0123,"num_turns":2,"session_id":"abc",` +
		`"usage":{"input_tokens":1500,"output_tokens":220}}`
)

func fixedClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestParserHappyPath(t *testing.T) {
	p := NewParser()
	p.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 1500*time.Millisecond)

	acts := p.Feed([]byte(lineToolUse))
	if len(acts) != 2 {
		t.Fatalf("expected text + tool_call, got %d actions", len(acts))
	}
	if acts[0].Kind != ActionText || acts[0].Text != "Listing files." {
		t.Errorf("first action = %+v", acts[0])
	}
	call := acts[1]
	if call.Kind != ActionToolCall || call.Step != 1 || call.Record.Tool != "Bash" {
		t.Fatalf("tool call action = %+v", call)
	}
	if call.Record.Summary != "print(list_dir('/tmp'))" {
		t.Errorf("summary = %q", call.Record.Summary)
	}

	acts = p.Feed([]byte(lineToolResult))
	if len(acts) != 1 || acts[0].Kind != ActionToolResult {
		t.Fatalf("expected one tool_result, got %+v", acts)
	}
	res := acts[0]
	if res.Step != 1 || res.Output != "a.txt\nb.txt" || res.IsError {
		t.Errorf("tool result = %+v", res)
	}
	if res.Record == nil || res.Record.Elapsed() != 1500*time.Millisecond {
		t.Errorf("elapsed not computed: %+v", res.Record)
	}
	if res.Record.Status != StatusOK {
		t.Errorf("status = %q", res.Record.Status)
	}

	acts = p.Feed([]byte(lineResult))
	if len(acts) != 1 || acts[0].Kind != ActionFinal || acts[0].Text != "done" {
		t.Fatalf("final = %+v", acts)
	}
	u := acts[0].Usage
	if u.CostUSD == nil || *u.CostUSD != 0.0123 {
		t.Errorf("cost = %v", u.CostUSD)
	}
	if u.InputTokens == nil || *u.InputTokens != 1500 || u.OutputTokens == nil || *u.OutputTokens != 220 {
		t.Errorf("tokens = %v/%v", u.InputTokens, u.OutputTokens)
	}
	if u.NumTurns == nil || *u.NumTurns != 2 || u.SessionID != "abc" {
		t.Errorf("turns/session = %v/%q", u.NumTurns, u.SessionID)
	}

	if p.Step() != 1 {
		t.Errorf("step = %d", p.Step())
	}
	if open := p.Close(); len(open) != 0 {
		t.Errorf("expected no open records, got %d", len(open))
	}
}

func TestParserSkipsNoise(t *testing.T) {
	p := NewParser()
	for _, line := range []string{"", "   ", "not json", `{"no":"type"}`, `[1,2]`} {
		if acts := p.Feed([]byte(line)); acts != nil {
			t.Errorf("line %q produced actions %+v", line, acts)
		}
	}
	if p.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", p.Dropped())
	}
	if acts := p.Feed([]byte(`{"type":"system","subtype":"init"}`)); len(acts) != 0 {
		t.Errorf("system event produced actions: %+v", acts)
	}
	if acts := p.Feed([]byte(lineResult)); len(acts) != 1 {
		t.Fatal("parser did not recover after noise")
	}
}

func TestParserUnmatchedRecordsCloseUnknown(t *testing.T) {
	p := NewParser()
	p.Feed([]byte(`{"type":"assistant","message":{"content":[` +
		`{"type":"tool_use","id":"a","name":"Read","input":{"file_path":"/tmp/screen.png"}},` +
		`{"type":"tool_use","id":"b","name":"Bash","input":{"command":"ls"}}]}}`))
	if p.Step() != 2 {
		t.Fatalf("step = %d, want 2", p.Step())
	}
	p.Feed([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"b","content":"ok"}]}}`))

	open := p.Close()
	if len(open) != 1 || open[0].ID != "a" || open[0].Status != StatusUnknown {
		t.Fatalf("open records = %+v", open)
	}
	if open[0].Summary != "/tmp/screen.png" || open[0].Detail != "/tmp/screen.png" {
		t.Errorf("file view summary/detail = %q/%q", open[0].Summary, open[0].Detail)
	}
	if len(p.Close()) != 0 {
		t.Error("Close should be idempotent")
	}
}

func TestParserResultWithoutCall(t *testing.T) {
	p := NewParser()
	acts := p.Feed([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"zz","content":[{"type":"text","text":"x"},{"type":"text","text":"y"}],"is_error":true}]}}`))
	if len(acts) != 1 {
		t.Fatalf("actions = %+v", acts)
	}
	if acts[0].Record != nil || !acts[0].IsError || acts[0].Output != "x\ny" {
		t.Errorf("orphan result = %+v", acts[0])
	}
	if p.Step() != 0 {
		t.Errorf("tool_result must not advance step, got %d", p.Step())
	}
}

func TestFinalTextErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"type":"result","is_error":true,"result":"boom"}`, "[error] boom"},
		{`{"type":"result","subtype":"error_max_turns"}`, "[error] Unknown error"},
		{`{"type":"result","subtype":"success","result":""}`, ""},
	}
	for _, tt := range tests {
		ev, err := Decode([]byte(tt.line))
		if err != nil {
			t.Fatalf("Decode(%s): %v", tt.line, err)
		}
		if got := ev.FinalText(); got != tt.want {
			t.Errorf("FinalText(%s) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestAdvanceIsPure(t *testing.T) {
	_, step, err := Advance(4, []byte(lineToolUse))
	if err != nil || step != 5 {
		t.Fatalf("Advance = %d, %v", step, err)
	}
	_, step, err = Advance(5, []byte("garbage"))
	if err == nil || step != 5 {
		t.Fatalf("Advance on garbage = %d, %v", step, err)
	}
}

func TestMessageStringContent(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"user","message":{"role":"user","content":"hello"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b := ev.Blocks(); len(b) != 1 || b[0].Text != "hello" {
		t.Fatalf("blocks = %+v", b)
	}
}
