package cli

import (
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/freema/desktop-assist/internal/metrics"
)

const pollInterval = 25 * time.Millisecond

// processGroup terminates a child and all of its descendants. The child is
// started with Setpgid, so its pid is the group id.
type processGroup struct {
	pgid  int
	grace time.Duration
	once  sync.Once
}

func newProcessGroup(pid int, grace time.Duration) *processGroup {
	return &processGroup{pgid: pid, grace: grace}
}

// Terminate sends SIGTERM to the group, waits up to the grace period for it
// to disappear, then sends SIGKILL. Only the first call does any work; later
// calls block until it has finished.
func (g *processGroup) Terminate() {
	g.once.Do(g.terminate)
}

func (g *processGroup) terminate() {
	if err := syscall.Kill(-g.pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		slog.Warn("sending SIGTERM to process group failed", "pgid", g.pgid, "error", err)
	}

	deadline := time.Now().Add(g.grace)
	for time.Now().Before(deadline) {
		if !g.alive() {
			return
		}
		time.Sleep(pollInterval)
	}

	slog.Debug("process group still alive after grace period, killing", "pgid", g.pgid, "grace", g.grace)
	if err := syscall.Kill(-g.pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		metrics.TeardownFailures.Inc()
		slog.Warn("sending SIGKILL to process group failed", "pgid", g.pgid, "error", err)
	}
}

func (g *processGroup) alive() bool {
	err := syscall.Kill(-g.pgid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
