package cli

import (
	"context"
	"time"
)

// DefaultAllowedTools is the allowlist used when RunOptions leaves it empty.
var DefaultAllowedTools = []string{"Bash", "Read"}

// DefaultGracePeriod bounds each teardown escalation step.
const DefaultGracePeriod = 3 * time.Second

// Runner is the interface for agent CLI execution.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
}

// RunOptions configures a CLI run.
type RunOptions struct {
	Prompt       string
	SystemPrompt string
	Model        string
	MaxTurns     int
	MaxBudgetUSD float64
	AllowedTools []string
	WorkDir      string
	// Env entries are appended to the current environment.
	Env []string
	// Timeout bounds the whole run. Zero means no limit beyond ctx.
	Timeout     time.Duration
	GracePeriod time.Duration

	// OnStart is called with the child pid right after spawn.
	OnStart func(pid int)
	// OnLine receives each complete stdout line, in order, on the calling goroutine.
	OnLine func(line []byte)
}

// RunResult holds the outcome of a CLI run that got as far as spawning.
type RunResult struct {
	ExitCode  int
	Stderr    string
	Duration  time.Duration
	Cancelled bool
	TimedOut  bool
}

func (o RunOptions) grace() time.Duration {
	if o.GracePeriod > 0 {
		return o.GracePeriod
	}
	return DefaultGracePeriod
}
