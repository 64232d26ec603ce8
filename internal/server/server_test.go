package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/capability"
	"github.com/freema/desktop-assist/internal/cli"
	"github.com/freema/desktop-assist/internal/config"
	"github.com/freema/desktop-assist/internal/history"
	"github.com/freema/desktop-assist/internal/platform"
	"github.com/freema/desktop-assist/internal/session"
	"github.com/freema/desktop-assist/internal/stream"
)

const testToken = "test-token"

// blockingRunner pretends to be an agent that works until cancelled.
type blockingRunner struct {
	once    sync.Once
	started chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context, opts cli.RunOptions) (*cli.RunResult, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return &cli.RunResult{ExitCode: -1, Cancelled: true}, nil
}

type fixture struct {
	handler http.Handler
	tracker *agent.Tracker
	runner  *blockingRunner
	dir     string
	history *history.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.CLI.Path = "desktop-assist-test-missing-agent"
	cfg.Sessions.Dir = dir
	cfg.Server.AuthToken = testToken

	runner := &blockingRunner{started: make(chan struct{})}
	orch := agent.NewOrchestrator(runner, capability.NewBuiltinRegistry(),
		platform.Info{Name: "Linux", Python: "python3"}, agent.Sinks{}, agent.Config{
			SessionDir:        dir,
			InstructionsStart: dir,
			HomeDir:           dir,
		})
	tracker := agent.NewTracker(context.Background(), orch)

	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	srv := New(Deps{Config: cfg, Tracker: tracker, History: store, Version: "test"})
	return &fixture{handler: srv.Handler(), tracker: tracker, runner: runner, dir: dir, history: store}
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v\n%s", err, rec.Body.String())
	}
}

func writeSession(t *testing.T, dir string) string {
	t.Helper()
	log, err := session.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()
	in, out := 1200, 40
	log.Start("open the calculator", "sonnet", 30)
	log.ToolCall(1, "Bash", "tu_1", "open -a Calculator")
	log.ToolResult(1, "tu_1", false, "", 800*time.Millisecond)
	log.Done(1, 3*time.Second, "Calculator is open.", stream.RunUsage{InputTokens: &in, OutputTokens: &out})
	return log.ID()
}

func TestHealthWithoutRedis(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["redis"] != "disabled" || body["agent"] != "not installed" || body["status"] != "degraded" {
		t.Errorf("health = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, http.MethodGet, "/api/v1/sessions", "", false); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/sessions", "", true); rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t)
	id := writeSession(t, f.dir)

	rec := f.do(t, http.MethodGet, "/api/v1/sessions", "", true)
	var list struct {
		Sessions []session.Summary `json:"sessions"`
		Total    int               `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || list.Sessions[0].ID != id || list.Sessions[0].Status != session.StatusDone {
		t.Fatalf("list = %+v", list)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, "", true)
	var detail struct {
		Records []session.Record `json:"records"`
	}
	decode(t, rec, &detail)
	if len(detail.Records) != 4 || detail.Records[1].Command != "open -a Calculator" {
		t.Errorf("records = %+v", detail.Records)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/replay", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	text := rec.Body.String()
	for _, want := range []string{"[1] Bash: open -a Calculator", "done (1 tool call, 3.0s", "Calculator is open."} {
		if !strings.Contains(text, want) {
			t.Errorf("replay missing %q:\n%s", want, text)
		}
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/sessions/20200101_000000_00000000", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: status = %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.history.Record(context.Background(), agent.RunSummary{
		SessionID: "sid", Prompt: "p", Outcome: agent.OutcomeCompleted,
		StartedAt: now.Add(-time.Second), FinishedAt: now,
	})

	rec := f.do(t, http.MethodGet, "/api/v1/history?limit=5", "", true)
	var body struct {
		Runs  []history.Entry `json:"runs"`
		Total int             `json:"total"`
	}
	decode(t, rec, &body)
	if body.Total != 1 || body.Runs[0].SessionID != "sid" {
		t.Errorf("history = %+v", body)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/history/nope", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("unknown history entry: status = %d", rec.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodGet, "/api/v1/runs/current", "", true); rec.Code != http.StatusNotFound {
		t.Fatalf("current before any run: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/runs", `{}`, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/api/v1/runs", `{"prompt":"x","timeout":"soon"}`, true); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timeout: status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/runs", `{"prompt":"open the calculator"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var info agent.RunInfo
	decode(t, rec, &info)
	<-f.runner.started

	if rec := f.do(t, http.MethodPost, "/api/v1/runs", `{"prompt":"again"}`, true); rec.Code != http.StatusConflict {
		t.Errorf("second run: status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/runs/current/cancel", "", true); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel: status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.tracker.Wait(ctx, info.ID); err != nil {
		t.Fatal(err)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/runs/"+info.ID, "", true)
	var done agent.RunInfo
	decode(t, rec, &done)
	if done.Status != agent.RunFinished || done.Result == nil || done.Result.Text != agent.MsgInterrupted {
		t.Fatalf("finished run = %+v", done)
	}
	if done.SessionID == "" || done.Result.SessionID != done.SessionID {
		t.Errorf("session id not tracked: %+v", done)
	}

	if rec := f.do(t, http.MethodPost, "/api/v1/runs/current/cancel", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("cancel when idle: status = %d", rec.Code)
	}
}

func TestDocsAndMetrics(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/docs/openapi.yaml", "", false)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "openapi: 3.0.3") {
		t.Errorf("openapi: %d %.40q", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/metrics", "", false)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "desktop_assist_http_requests_total") {
		t.Errorf("metrics: %d", rec.Code)
	}
}
