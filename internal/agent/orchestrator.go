// Package agent runs one prompt through the agent CLI: it builds the
// instructions, supervises the process, logs every event and settles on a
// single terminal result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/freema/desktop-assist/internal/apperror"
	"github.com/freema/desktop-assist/internal/capability"
	"github.com/freema/desktop-assist/internal/cli"
	"github.com/freema/desktop-assist/internal/display"
	"github.com/freema/desktop-assist/internal/logger"
	"github.com/freema/desktop-assist/internal/metrics"
	"github.com/freema/desktop-assist/internal/platform"
	"github.com/freema/desktop-assist/internal/session"
	"github.com/freema/desktop-assist/internal/stream"
	"github.com/freema/desktop-assist/internal/tracing"
)

// Terminal result messages.
const (
	MsgInterrupted = "[error] Agent interrupted by user."
	MsgEmpty       = "[error] Empty response from Claude CLI."
	dryRunPrefix   = "[dry-run] "
)

var validate = validator.New()

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFailed       Outcome = "failed"
	OutcomeEmpty        Outcome = "empty"
	OutcomeNotInstalled Outcome = "not_installed"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeDryRun       Outcome = "dry_run"
)

// Request describes one run.
type Request struct {
	Prompt       string        `json:"prompt" validate:"required_without=ResumeFrom,max=100000"`
	Model        string        `json:"model,omitempty" validate:"omitempty,max=100"`
	MaxTurns     int           `json:"max_turns,omitempty" validate:"min=0,max=500"`
	MaxBudgetUSD float64       `json:"max_budget_usd,omitempty" validate:"gte=0"`
	DryRun       bool          `json:"dry_run,omitempty"`
	Verbose      bool          `json:"verbose,omitempty"`
	Log          bool          `json:"log"`
	LogDir       string        `json:"-"`
	ResumeFrom   string        `json:"resume_from,omitempty" validate:"omitempty,excludesall=/\\"`
	Timeout      time.Duration `json:"timeout,omitempty" validate:"gte=0"`

	// OnSession, if set, receives the session id before the agent starts.
	OnSession func(sessionID string) `json:"-"`
}

// Result is the settled outcome of a run.
type Result struct {
	Text        string          `json:"result"`
	Outcome     Outcome         `json:"outcome"`
	SessionID   string          `json:"session_id,omitempty"`
	SessionPath string          `json:"session_path,omitempty"`
	Steps       int             `json:"steps"`
	Elapsed     time.Duration   `json:"elapsed"`
	ExitCode    int             `json:"exit_code"`
	Usage       stream.RunUsage `json:"usage"`
	State       State           `json:"state"`
	TraceID     string          `json:"trace_id,omitempty"`
}

// RunSummary is handed to the sinks once a run is finalized.
type RunSummary struct {
	SessionID   string
	SessionPath string
	Prompt      string
	Model       string
	Outcome     Outcome
	Result      string
	Steps       int
	Elapsed     time.Duration
	Usage       stream.RunUsage
	StartedAt   time.Time
	FinishedAt  time.Time
	TraceID     string
}

// EventSink receives every session record as it happens.
type EventSink interface {
	Publish(ctx context.Context, sessionID string, rec session.Record) error
	Complete(ctx context.Context, summary RunSummary) error
}

// HistoryRecorder stores finished runs.
type HistoryRecorder interface {
	Record(ctx context.Context, summary RunSummary) error
}

// Notifier announces finished runs.
type Notifier interface {
	Notify(ctx context.Context, summary RunSummary) error
}

// Sinks are optional observers of a run. Nil members are skipped.
type Sinks struct {
	Events   EventSink
	History  HistoryRecorder
	Notifier Notifier
}

// Config holds orchestrator defaults.
type Config struct {
	// Binary is the agent CLI name used in messages and dry-run output.
	Binary       string
	DefaultModel string
	MaxTurns     int
	MaxBudgetUSD float64
	AllowedTools []string
	Timeout      time.Duration
	GracePeriod  time.Duration
	SessionDir   string
	WorkDir      string
	// Progress receives human-readable progress lines.
	Progress io.Writer
	// InstructionsStart and HomeDir bound the custom instructions search.
	// Empty values mean the working directory and the user's home.
	InstructionsStart string
	HomeDir           string
}

// Orchestrator runs prompts through the agent CLI.
type Orchestrator struct {
	runner   cli.Runner
	registry *capability.Registry
	host     platform.Info
	sinks    Sinks
	cfg      Config
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(runner cli.Runner, registry *capability.Registry, host platform.Info, sinks Sinks, cfg Config) *Orchestrator {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 30
	}
	if cfg.Progress == nil {
		cfg.Progress = io.Discard
	}
	return &Orchestrator{
		runner:   runner,
		registry: registry,
		host:     host,
		sinks:    sinks,
		cfg:      cfg,
	}
}

// NotInstalledMessage is the result text when the agent CLI is missing.
func NotInstalledMessage(binary string) string {
	return fmt.Sprintf("[error] '%s' CLI not found (not installed). "+
		"Install it with: npm install -g @anthropic-ai/claude-code", binary)
}

// SystemPrompt renders the instruction preamble with the tool manifest and
// any custom instructions file.
func (o *Orchestrator) SystemPrompt() (string, error) {
	data := PromptData{
		Platform: o.host.Name,
		Python:   o.host.Python,
		Manifest: capability.BuildManifest(o.registry),
	}

	start, home := o.cfg.InstructionsStart, o.cfg.HomeDir
	if start == "" {
		start, _ = os.Getwd()
	}
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if path, ok := FindInstructions(start, home); ok {
		text, err := LoadInstructions(path)
		if err != nil {
			slog.Warn("ignoring custom instructions", "path", path, "error", err)
		} else {
			data.Instructions = text
			data.InstructionsPath = path
		}
	}
	return BuildSystemPrompt(data)
}

func (o *Orchestrator) withDefaults(req Request) Request {
	if req.Model == "" {
		req.Model = o.cfg.DefaultModel
	}
	if req.MaxTurns <= 0 {
		req.MaxTurns = o.cfg.MaxTurns
	}
	if req.MaxBudgetUSD <= 0 {
		req.MaxBudgetUSD = o.cfg.MaxBudgetUSD
	}
	if req.Timeout <= 0 {
		req.Timeout = o.cfg.Timeout
	}
	if req.LogDir == "" {
		req.LogDir = o.cfg.SessionDir
	}
	return req
}

// Run executes one request and always returns a settled result, whatever
// happened to the agent process. An error is returned only when the run
// could not begin: an invalid request, an unreadable resume session or a
// session log that cannot be created.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res *Result, err error) {
	req = o.withDefaults(req)
	if err := validate.Struct(req); err != nil {
		return nil, apperror.Validation("invalid run request: %v", err)
	}

	prompt, model := req.Prompt, req.Model
	if req.ResumeFrom != "" {
		resumed, prevModel, err := session.LoadResume(req.LogDir, req.ResumeFrom)
		if err != nil {
			return nil, fmt.Errorf("loading session %s: %w", req.ResumeFrom, err)
		}
		if req.Prompt != "" {
			resumed += "\n\nAdditional instructions: " + req.Prompt
		}
		prompt = resumed
		if model == "" {
			model = prevModel
		}
	}

	systemPrompt, err := o.SystemPrompt()
	if err != nil {
		return nil, err
	}

	opts := cli.RunOptions{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Model:        model,
		MaxTurns:     req.MaxTurns,
		MaxBudgetUSD: req.MaxBudgetUSD,
		AllowedTools: o.cfg.AllowedTools,
		WorkDir:      o.cfg.WorkDir,
		Env:          o.host.Env,
		Timeout:      req.Timeout,
		GracePeriod:  o.cfg.GracePeriod,
	}

	if req.DryRun {
		return o.dryRun(opts)
	}

	r := &run{
		o:       o,
		req:     req,
		prompt:  prompt,
		model:   model,
		out:     display.New(o.cfg.Progress, req.Verbose),
		parser:  stream.NewParser(),
		state:   StateIdle,
		spans:   make(map[string]trace.Span),
		started: time.Now(),
	}
	if req.Log {
		log, err := session.Open(req.LogDir)
		if err != nil {
			return nil, fmt.Errorf("opening session log: %w", err)
		}
		r.log = log
		r.id = log.ID()
	} else {
		r.id = session.NewID(r.started)
	}
	r.logger = logger.FromContext(ctx).With("session_id", r.id)

	// Every path out of here, panics included, goes through finalize.
	defer func() { res = r.finalize() }()
	r.execute(ctx, opts)
	return nil, nil
}

type commander interface {
	Command(opts cli.RunOptions) []string
}

func (o *Orchestrator) dryRun(opts cli.RunOptions) (*Result, error) {
	argv := append([]string{o.cfg.Binary}, cli.BuildArgs(opts)...)
	if c, ok := o.runner.(commander); ok {
		argv = c.Command(opts)
	}
	if err := ValidateTransition(StateIdle, StateFinalizing); err != nil {
		return nil, err
	}
	return &Result{
		Text:    dryRunPrefix + shellJoin(argv),
		Outcome: OutcomeDryRun,
		State:   StateDone,
	}, nil
}

// run is the mutable state of one Run call. It is owned by the calling
// goroutine; the runner invokes OnStart and OnLine on that same goroutine.
type run struct {
	o      *Orchestrator
	req    Request
	prompt string
	model  string
	id     string
	log    *session.Logger
	logger *slog.Logger
	out    *display.Formatter
	parser *stream.Parser
	state  State

	ctx     context.Context
	span    trace.Span
	spans   map[string]trace.Span
	started time.Time

	final    *string
	usage    stream.RunUsage
	result   *cli.RunResult
	spawnErr error
}

func (r *run) transition(next State) {
	if err := ValidateTransition(r.state, next); err != nil {
		r.logger.Error("run state machine violated", "error", err)
	}
	r.state = next
}

func (r *run) execute(ctx context.Context, opts cli.RunOptions) {
	r.ctx, r.span = tracing.Tracer().Start(ctx, "agent.run",
		tracing.WithRunAttributes(r.id, r.model, r.req.MaxTurns),
	)
	metrics.RunsInProgress.Inc()
	if r.req.OnSession != nil {
		r.req.OnSession(r.id)
	}

	r.out.Start(r.prompt, r.model)
	r.emit(session.NewStart(r.prompt, r.model, r.req.MaxTurns))
	if r.req.ResumeFrom != "" {
		r.out.Resume(r.req.ResumeFrom)
		r.emit(session.NewResume(r.req.ResumeFrom))
	}

	r.transition(StateSpawning)
	opts.OnStart = func(int) { r.transition(StateStreaming) }
	opts.OnLine = r.handleLine

	r.result, r.spawnErr = r.o.runner.Run(r.ctx, opts)
	if r.result == nil {
		return
	}
	if r.state == StateSpawning {
		r.transition(StateStreaming)
	}
	if r.result.Cancelled || r.result.TimedOut {
		r.transition(StateCancelled)
	}
}

func (r *run) handleLine(line []byte) {
	for _, a := range r.parser.Feed(line) {
		switch a.Kind {
		case stream.ActionToolCall:
			rec := a.Record
			r.out.ToolCall(a.Step, rec.Tool, rec.Summary, rec.Detail)
			r.emit(session.NewToolCall(a.Step, rec.Tool, rec.ID, rec.Detail))
			_, span := tracing.Tracer().Start(r.ctx, "agent.tool", tracing.WithToolAttributes(rec.Tool, rec.ID, a.Step))
			r.spans[rec.ID] = span

		case stream.ActionToolResult:
			var elapsed time.Duration
			tool := "?"
			if a.Record != nil {
				elapsed = a.Record.Elapsed()
				tool = a.Record.Tool
				metrics.ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
			}
			metrics.ToolCallsTotal.WithLabelValues(tool, statusLabel(a.IsError)).Inc()
			r.out.ToolResult(a.IsError, elapsed, a.Output)
			r.emit(session.NewToolResult(a.Step, a.ToolUseID, a.IsError, a.Output, elapsed))
			r.endToolSpan(a.ToolUseID, a.IsError, "")

		case stream.ActionText:
			r.out.Text(a.Text)
			r.emit(session.NewText(a.Text))

		case stream.ActionFinal:
			text := a.Text
			r.final = &text
			r.usage = a.Usage
		}
	}
}

func (r *run) endToolSpan(id string, isError bool, status string) {
	span, ok := r.spans[id]
	if !ok {
		return
	}
	delete(r.spans, id)
	if status != "" {
		span.SetAttributes(attribute.String("tool.status", status))
	}
	if isError {
		span.SetStatus(codes.Error, "tool call failed")
	}
	span.End()
}

func statusLabel(isError bool) string {
	if isError {
		return stream.StatusError
	}
	return stream.StatusOK
}

// emit writes rec to the session log and the event sink. Failures are
// logged and never affect the run.
func (r *run) emit(rec session.Record) {
	if r.log != nil {
		if err := r.log.Append(rec); err != nil {
			r.logger.Warn("writing session record failed", "event", rec.Event, "error", err)
		}
	}
	if r.o.sinks.Events != nil {
		if err := r.o.sinks.Events.Publish(r.context(), r.id, rec); err != nil {
			r.logger.Warn("publishing session record failed", "event", rec.Event, "error", err)
		}
	}
}

// context returns a context for bookkeeping that outlives cancellation.
func (r *run) context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(r.ctx)
}

// settle picks the terminal result. Exactly one branch applies.
func (r *run) settle() (string, Outcome) {
	switch {
	case errors.Is(r.spawnErr, apperror.ErrNotInstalled):
		return NotInstalledMessage(r.o.cfg.Binary), OutcomeNotInstalled
	case r.spawnErr != nil:
		return fmt.Sprintf("[error] Failed to start Claude CLI: %v", r.spawnErr), OutcomeFailed
	case r.result == nil:
		return "[error] Agent run aborted.", OutcomeFailed
	case r.result.Cancelled:
		return MsgInterrupted, OutcomeCancelled
	case r.result.TimedOut:
		return fmt.Sprintf("[error] Agent timed out after %s.", r.req.Timeout), OutcomeTimedOut
	case r.final != nil:
		if strings.HasPrefix(*r.final, "[error]") {
			return *r.final, OutcomeFailed
		}
		return *r.final, OutcomeCompleted
	case r.result.ExitCode != 0:
		return fmt.Sprintf("[error] Claude CLI exited with code %d. stderr: %s",
			r.result.ExitCode, strings.TrimSpace(r.result.Stderr)), OutcomeFailed
	default:
		return MsgEmpty, OutcomeEmpty
	}
}

// finalize is the only place a run ends: it writes the done record, closes
// the log, reports progress and notifies the sinks.
func (r *run) finalize() *Result {
	r.transition(StateFinalizing)
	elapsed := time.Since(r.started)

	for _, rec := range r.parser.Close() {
		metrics.ToolCallsTotal.WithLabelValues(rec.Tool, stream.StatusUnknown).Inc()
		r.endToolSpan(rec.ID, false, stream.StatusUnknown)
	}
	if n := r.parser.Dropped(); n > 0 {
		metrics.StreamLinesDropped.Add(float64(n))
	}

	text, outcome := r.settle()
	steps := r.parser.Step()

	switch outcome {
	case OutcomeCancelled:
		r.out.Interrupted()
	case OutcomeTimedOut:
		r.out.TimedOut(r.req.Timeout)
	}
	r.out.Done(steps, elapsed, r.usage)

	r.emit(session.NewDone(steps, elapsed, text, r.usage))
	path := ""
	if r.log != nil {
		if err := r.log.Close(); err != nil {
			r.logger.Warn("closing session log failed", "error", err)
		}
		path = r.log.Path()
		r.out.SessionPath(path)
	}

	metrics.RunsInProgress.Dec()
	metrics.RunsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.RunDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())

	traceID := ""
	if r.span != nil {
		traceID = tracing.TraceIDFromContext(r.ctx)
		r.span.SetAttributes(
			attribute.String("run.outcome", string(outcome)),
			attribute.Int("run.steps", steps),
		)
		if outcome != OutcomeCompleted {
			r.span.SetStatus(codes.Error, string(outcome))
		}
		r.span.End()
	}

	exitCode := -1
	if r.result != nil {
		exitCode = r.result.ExitCode
	}

	summary := RunSummary{
		SessionID:   r.id,
		SessionPath: path,
		Prompt:      r.prompt,
		Model:       r.model,
		Outcome:     outcome,
		Result:      text,
		Steps:       steps,
		Elapsed:     elapsed,
		Usage:       r.usage,
		StartedAt:   r.started.UTC(),
		FinishedAt:  time.Now().UTC(),
		TraceID:     traceID,
	}
	r.notify(summary)

	r.transition(StateDone)
	r.logger.Info("agent run finished", "outcome", outcome, "steps", steps, "elapsed", elapsed)

	return &Result{
		Text:        text,
		Outcome:     outcome,
		SessionID:   r.id,
		SessionPath: path,
		Steps:       steps,
		Elapsed:     elapsed,
		ExitCode:    exitCode,
		Usage:       r.usage,
		State:       r.state,
		TraceID:     traceID,
	}
}

func (r *run) notify(summary RunSummary) {
	ctx := r.context()
	s := r.o.sinks
	if s.Events != nil {
		if err := s.Events.Complete(ctx, summary); err != nil {
			r.logger.Warn("publishing run completion failed", "error", err)
		}
	}
	if s.History != nil {
		if err := s.History.Record(ctx, summary); err != nil {
			r.logger.Warn("recording run history failed", "error", err)
		}
	}
	if s.Notifier != nil {
		if err := s.Notifier.Notify(ctx, summary); err != nil {
			r.logger.Warn("run notification failed", "error", err)
		}
	}
}
