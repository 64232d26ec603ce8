package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freema/desktop-assist/internal/stream"
)

const (
	fileExt   = ".jsonl"
	idLayout  = "20060102_150405"
	openTries = 3
)

var (
	// ErrClosed is returned for writes after Close.
	ErrClosed = errors.New("session log closed")
	// ErrDone is returned when a second done record is written.
	ErrDone = errors.New("session log already has a done record")
)

// NewID returns a sortable session id: UTC timestamp plus 8 random hex chars.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format(idLayout) + "_" + suffix
}

// Path returns the log file path of a session.
func Path(dir, id string) string {
	return filepath.Join(dir, id+fileExt)
}

// Logger appends records to one session file. Every record is a single
// write followed by fsync, so a killed run leaves a parseable prefix.
type Logger struct {
	mu     sync.Mutex
	f      *os.File
	id     string
	path   string
	done   bool
	closed bool
	now    func() time.Time
}

// Open creates the session directory if needed and a new, empty log file in it.
func Open(dir string) (*Logger, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	var lastErr error
	for i := 0; i < openTries; i++ {
		id := NewID(time.Now())
		path := Path(dir, id)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return &Logger{f: f, id: id, path: path, now: time.Now}, nil
		}
		lastErr = err
		if !errors.Is(err, os.ErrExist) {
			break
		}
	}
	return nil, fmt.Errorf("creating session log: %w", lastErr)
}

// ID returns the session id.
func (l *Logger) ID() string { return l.id }

// Path returns the log file path.
func (l *Logger) Path() string { return l.path }

// Start writes the start record.
func (l *Logger) Start(prompt, model string, maxTurns int) error {
	return l.Append(NewStart(prompt, model, maxTurns))
}

// Resume records the session a resumed run continues from.
func (l *Logger) Resume(previous string) error {
	return l.Append(NewResume(previous))
}

// ToolCall records a tool invocation.
func (l *Logger) ToolCall(step int, tool, toolID, command string) error {
	return l.Append(NewToolCall(step, tool, toolID, command))
}

// ToolResult records a tool result.
func (l *Logger) ToolResult(step int, toolID string, isError bool, output string, elapsed time.Duration) error {
	return l.Append(NewToolResult(step, toolID, isError, output, elapsed))
}

// Text records assistant narration.
func (l *Logger) Text(text string) error {
	return l.Append(NewText(text))
}

// Done writes the terminal record.
func (l *Logger) Done(steps int, elapsed time.Duration, result string, usage stream.RunUsage) error {
	return l.Append(NewDone(steps, elapsed, result, usage))
}

// Append writes rec as one line. A zero timestamp is set to now. Only one
// done record may be written.
func (l *Logger) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if rec.Event == KindDone {
		if l.done {
			return ErrDone
		}
		l.done = true
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", rec.Event, err)
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("writing %s record: %w", rec.Event, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing session log: %w", err)
	}
	return nil
}

// Close closes the file. It is safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}
