package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freema/desktop-assist/internal/apperror"
)

// RunStatus is the tracker's view of a background run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// RunInfo describes a run started through the tracker.
type RunInfo struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id,omitempty"`
	Prompt     string     `json:"prompt"`
	Model      string     `json:"model,omitempty"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Tracker runs at most one request at a time in the background. The desktop
// is a single shared resource, so a second start is rejected as busy.
type Tracker struct {
	orch *Orchestrator
	base context.Context

	mu      sync.Mutex
	current *trackedRun
	last    *trackedRun
}

type trackedRun struct {
	info   RunInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a tracker whose runs live until base is cancelled.
func NewTracker(base context.Context, orch *Orchestrator) *Tracker {
	return &Tracker{orch: orch, base: base}
}

// Start validates req and launches it in the background.
func (t *Tracker) Start(req Request) (RunInfo, error) {
	req.DryRun = false
	if err := validate.Struct(req); err != nil {
		return RunInfo{}, apperror.Validation("invalid run request: %v", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		return RunInfo{}, apperror.Busy("run %s is already in progress", t.current.info.ID)
	}

	ctx, cancel := context.WithCancel(t.base)
	tr := &trackedRun{
		info: RunInfo{
			ID:        uuid.New().String(),
			Prompt:    req.Prompt,
			Model:     req.Model,
			Status:    RunRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.current = tr
	req.OnSession = func(id string) {
		t.mu.Lock()
		tr.info.SessionID = id
		t.mu.Unlock()
	}

	go t.execute(ctx, tr, req)
	return tr.info, nil
}

func (t *Tracker) execute(ctx context.Context, tr *trackedRun, req Request) {
	defer close(tr.done)
	defer tr.cancel()

	res, err := t.orch.Run(ctx, req)

	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now().UTC()
	tr.info.FinishedAt = &now
	tr.info.Result = res
	tr.info.Status = RunFinished
	if err != nil {
		tr.info.Status = RunFailed
		tr.info.Error = err.Error()
		slog.Error("background run failed to start", "run_id", tr.info.ID, "error", err)
	}
	t.current = nil
	t.last = tr
}

// Current returns the active run, or the most recent one when idle.
func (t *Tracker) Current() (RunInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		return t.current.info, true
	}
	if t.last != nil {
		return t.last.info, true
	}
	return RunInfo{}, false
}

// Get returns a run by id if it is the active or the most recent run.
func (t *Tracker) Get(id string) (RunInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tr := range []*trackedRun{t.current, t.last} {
		if tr != nil && tr.info.ID == id {
			return tr.info, nil
		}
	}
	return RunInfo{}, apperror.NotFound("run %s not found", id)
}

// Active reports whether sessionID belongs to the run in progress.
func (t *Tracker) Active(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil && sessionID != "" && t.current.info.SessionID == sessionID
}

// Cancel interrupts the active run with the given id.
func (t *Tracker) Cancel(id string) error {
	t.mu.Lock()
	tr := t.current
	t.mu.Unlock()
	if tr == nil || tr.info.ID != id {
		return apperror.NotFound("no active run %s", id)
	}
	tr.cancel()
	return nil
}

// Shutdown cancels the active run and waits for it to finalize or for ctx
// to expire.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	tr := t.current
	t.mu.Unlock()
	if tr == nil {
		return nil
	}
	tr.cancel()
	select {
	case <-tr.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the run with the given id has finished.
func (t *Tracker) Wait(ctx context.Context, id string) (RunInfo, error) {
	t.mu.Lock()
	tr := t.current
	t.mu.Unlock()
	if tr != nil && tr.info.ID == id {
		select {
		case <-tr.done:
		case <-ctx.Done():
			return RunInfo{}, ctx.Err()
		}
	}
	return t.Get(id)
}
