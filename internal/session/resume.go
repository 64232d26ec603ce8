package session

import (
	"fmt"
	"strings"
)

const resumeActionLines = 30

// BuildResumePrompt turns a previous session into a prompt that tells the
// agent what was already done. It returns the prompt and the model of the
// original run.
func BuildResumePrompt(recs []Record) (prompt, model string) {
	var (
		original string
		actions  []string
		status   = "interrupted"
	)
	for _, r := range recs {
		switch r.Event {
		case KindStart:
			original = r.Prompt
			model = r.Model
		case KindToolCall:
			actions = append(actions, fmt.Sprintf("  - [%d] %s: %s", r.StepValue(), r.Tool, r.Command))
		case KindToolResult:
			res := "OK"
			if r.Failed() {
				res = "ERROR"
			}
			actions = append(actions, "    -> "+res)
		case KindDone:
			status = "completed"
		}
	}
	if len(actions) > resumeActionLines {
		actions = actions[len(actions)-resumeActionLines:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "RESUMING PREVIOUS SESSION (status: %s).\n", status)
	fmt.Fprintf(&b, "Original task: %s\n\n", original)
	fmt.Fprintf(&b, "The previous attempt performed these actions:\n%s\n\n", strings.Join(actions, "\n"))
	b.WriteString("Continue from where the previous session left off. " +
		"Do NOT repeat steps that already succeeded. " +
		"Start by taking a screenshot to see the current screen state, " +
		"then continue working toward completing the original task.")
	return b.String(), model
}

// LoadResume reads a stored session and builds its resume prompt.
func LoadResume(dir, id string) (prompt, model string, err error) {
	recs, err := Read(dir, id)
	if err != nil {
		return "", "", err
	}
	prompt, model = BuildResumePrompt(recs)
	return prompt, model, nil
}
