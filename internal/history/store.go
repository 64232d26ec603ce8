// Package history keeps a SQLite index of finished runs so past outcomes can
// be listed without scanning every session log.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/apperror"
)

const (
	previewLen   = 500
	defaultLimit = 20
	maxLimit     = 500
	// Fixed width so TEXT ordering matches time ordering.
	tsLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	session_id     TEXT PRIMARY KEY,
	prompt         TEXT NOT NULL,
	model          TEXT NOT NULL DEFAULT '',
	outcome        TEXT NOT NULL,
	steps          INTEGER NOT NULL DEFAULT 0,
	elapsed_s      REAL NOT NULL DEFAULT 0,
	result_preview TEXT NOT NULL DEFAULT '',
	cost_usd       REAL,
	trace_id       TEXT NOT NULL DEFAULT '',
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at DESC);
`

// Entry is one finished run.
type Entry struct {
	SessionID     string        `json:"session_id"`
	Prompt        string        `json:"prompt"`
	Model         string        `json:"model,omitempty"`
	Outcome       agent.Outcome `json:"outcome"`
	Steps         int           `json:"steps"`
	ElapsedS      float64       `json:"elapsed_s"`
	ResultPreview string        `json:"result_preview"`
	CostUSD       *float64      `json:"cost_usd,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Store is the run index. It implements agent.HistoryRecorder.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating history directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run, replacing an earlier entry for the same session.
func (s *Store) Record(ctx context.Context, sum agent.RunSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(session_id, prompt, model, outcome, steps, elapsed_s, result_preview,
			 cost_usd, trace_id, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID,
		sum.Prompt,
		sum.Model,
		string(sum.Outcome),
		sum.Steps,
		float64(sum.Elapsed.Milliseconds())/1000,
		preview(sum.Result),
		sum.Usage.CostUSD,
		sum.TraceID,
		sum.StartedAt.UTC().Format(tsLayout),
		sum.FinishedAt.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", sum.SessionID, err)
	}
	return nil
}

// Recent returns up to limit runs, most recently finished first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, prompt, model, outcome, steps, elapsed_s, result_preview,
		       cost_usd, trace_id, started_at, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get returns the entry of one session.
func (s *Store) Get(ctx context.Context, sessionID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, prompt, model, outcome, steps, elapsed_s, result_preview,
		       cost_usd, trace_id, started_at, finished_at
		FROM runs WHERE session_id = ?`, sessionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperror.NotFound("run %s not found in history", sessionID)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                 Entry
		outcome           string
		cost              sql.NullFloat64
		started, finished string
	)
	err := sc.Scan(&e.SessionID, &e.Prompt, &e.Model, &outcome, &e.Steps, &e.ElapsedS,
		&e.ResultPreview, &cost, &e.TraceID, &started, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scanning history row: %w", err)
	}
	e.Outcome = agent.Outcome(outcome)
	if cost.Valid {
		e.CostUSD = &cost.Float64
	}
	e.StartedAt, _ = time.Parse(tsLayout, started)
	e.FinishedAt, _ = time.Parse(tsLayout, finished)
	return e, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
