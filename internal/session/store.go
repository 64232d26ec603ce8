package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/freema/desktop-assist/internal/apperror"
)

// Session statuses reported by List.
const (
	StatusDone       = "done"
	StatusIncomplete = "incomplete"
)

// Summary describes one stored session.
type Summary struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Model     string    `json:"model,omitempty"`
	Steps     int       `json:"steps"`
	ElapsedS  float64   `json:"elapsed_s"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Path      string    `json:"path"`
}

// RecordHandler consumes stored records in log order.
type RecordHandler interface {
	HandleRecord(rec Record) error
}

// HandlerFunc adapts a function to RecordHandler.
type HandlerFunc func(rec Record) error

// HandleRecord calls f(rec).
func (f HandlerFunc) HandleRecord(rec Record) error { return f(rec) }

// List returns summaries of every session in dir, newest first.
// A missing directory yields an empty list.
func List(dir string) ([]Summary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Summary{}, nil
		}
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), fileExt)
		path := filepath.Join(dir, e.Name())
		s := Summary{ID: id, Prompt: "?", Status: StatusIncomplete, Path: path}

		// Unreadable or partly corrupt files still list with what could be parsed.
		recs, _ := readFile(path)
		summarize(&s, recs)
		out = append(out, s)
	}

	// Ids start with a UTC timestamp, so lexical order is chronological.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func summarize(s *Summary, recs []Record) {
	for _, r := range recs {
		switch r.Event {
		case KindStart:
			s.Prompt = r.Prompt
			s.Model = r.Model
			s.StartedAt = r.Timestamp
		case KindDone:
			s.Steps = r.StepsValue()
			s.ElapsedS = deref(r.ElapsedS)
			s.Result = deref(r.ResultPreview)
			s.Status = StatusDone
		}
	}
}

// Read returns every record of a session. A torn final line, left by a run
// killed mid-write, is skipped.
func Read(dir, id string) ([]Record, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	recs, err := readFile(Path(dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperror.NotFound("session %s not found", id)
		}
		return nil, err
	}
	return recs, nil
}

// Replay feeds every stored record of a session to h, stopping at the first
// handler error.
func Replay(dir, id string, h RecordHandler) error {
	recs, err := Read(dir, id)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if err := h.HandleRecord(r); err != nil {
			return err
		}
	}
	return nil
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return apperror.Validation("invalid session id %q", id)
	}
	return nil
}

func readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var (
		recs    []Record
		pending error
		lineNo  int
	)
	for {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return recs, fmt.Errorf("reading session log: %w", readErr)
		}
		if len(bytes.TrimSpace(line)) > 0 {
			lineNo++
			// A bad line is only tolerated as the last one.
			if pending != nil {
				return recs, pending
			}
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				pending = fmt.Errorf("session log line %d: %w", lineNo, err)
			} else {
				recs = append(recs, rec)
			}
		}
		if readErr == io.EOF {
			return recs, nil
		}
	}
}
