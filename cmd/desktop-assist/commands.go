package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/capability"
	"github.com/freema/desktop-assist/internal/config"
	"github.com/freema/desktop-assist/internal/display"
	"github.com/freema/desktop-assist/internal/logger"
	"github.com/freema/desktop-assist/internal/server"
	"github.com/freema/desktop-assist/internal/server/handlers"
	"github.com/freema/desktop-assist/internal/session"
	"github.com/freema/desktop-assist/internal/stream"
)

const promptColumn = 60

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...)
}

func sessionsCmd() *cobra.Command {
	var logDir string

	dir := func() (string, error) {
		if logDir != "" {
			return config.ExpandHome(logDir), nil
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return "", fmt.Errorf("loading config: %w", err)
		}
		return cfg.Sessions.Dir, nil
	}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored session logs",
	}
	cmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Session log directory (default from config)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dir()
			if err != nil {
				return err
			}
			sessions, err := session.List(d)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No sessions in %s\n", d)
				return nil
			}
			t := newTable("ID", "STATUS", "STEPS", "ELAPSED", "PROMPT")
			for _, s := range sessions {
				t.Row(s.ID, s.Status, strconv.Itoa(s.Steps),
					fmt.Sprintf("%.1fs", s.ElapsedS), stream.Truncate(s.Prompt, promptColumn))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}

	var quiet bool
	replay := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Print a stored session the way it ran",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dir()
			if err != nil {
				return err
			}
			out := display.New(cmd.OutOrStdout(), !quiet)
			return session.Replay(d, args[0], out)
		},
	}
	replay.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide commands and tool output")

	cmd.AddCommand(list, replay)
	return cmd
}

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the desktop helper manifest given to the agent",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), capability.BuildManifest(capability.NewBuiltinRegistry()))
		},
	}

	snippet := &cobra.Command{
		Use:   "snippet <module.name> [key=value...]",
		Short: "Print the Python snippet that calls a helper",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := capability.NewBuiltinRegistry()
			def, ok := reg.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown tool %q, run 'desktop-assist tools' for the list", args[0])
			}
			kwargs, err := parseKwargs(args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), capability.Snippet(def, kwargs))
			return nil
		},
	}
	cmd.AddCommand(snippet)
	return cmd
}

func parseKwargs(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: %q is not key=value", errUsage, a)
		}
		out[k] = v
	}
	return out, nil
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), appOptions{configPath: configPath})
			if err != nil {
				return err
			}
			defer a.Close()
			if a.history == nil {
				return errors.New("run history is disabled (history.enabled)")
			}

			entries, err := a.history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded yet")
				return nil
			}
			t := newTable("FINISHED", "SESSION", "OUTCOME", "STEPS", "COST", "PROMPT")
			for _, e := range entries {
				cost := "-"
				if e.CostUSD != nil {
					cost = fmt.Sprintf("$%.4f", *e.CostUSD)
				}
				t.Row(e.FinishedAt.Local().Format("2006-01-02 15:04"), e.SessionID, string(e.Outcome),
					strconv.Itoa(e.Steps), cost, stream.Truncate(e.Prompt, promptColumn))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session browser and remote run API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{configPath: configPath, serve: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if a.cfg.Server.AuthToken == "" && !isLoopback(a.cfg.Server.Addr) {
				return fmt.Errorf("server.auth_token is required when listening on %s", a.cfg.Server.Addr)
			}

			slog.Info("starting desktop-assist server", "version", version, "platform", a.host.Name)

			runCtx, cancelRuns := context.WithCancel(logger.WithContext(context.Background(), slog.Default()))
			defer cancelRuns()
			tracker := agent.NewTracker(runCtx, a.orchestrator())

			deps := server.Deps{
				Config:  a.cfg,
				Tracker: tracker,
				Redis:   a.redis,
				Bus:     a.bus,
				Version: version,
			}
			if a.history != nil {
				deps.History = handlers.HistoryStore(a.history)
			}
			srv := server.New(deps)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			case err := <-errCh:
				return fmt.Errorf("server error: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "error", err)
			}
			if err := tracker.Shutdown(shutdownCtx); err != nil {
				slog.Error("active run did not finish", "error", err)
			}
			a.writeMetrics()
			slog.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
