// Command desktop-assist drives the desktop through an AI agent CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freema/desktop-assist/internal/agent"
)

var version = "dev"

var configPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		model    string
		maxTurns int
		dryRun   bool
		verbose  bool
		noLog    bool
		logDir   string
		resume   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "desktop-assist [flags] <prompt...>",
		Short: "Control the desktop with an AI agent",
		Long: `Run a natural-language task on this computer. The agent CLI is given the
desktop helper functions and works until the task is done.

Progress is printed to stderr; the final result is printed to stdout.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" && resume == "" {
				return cmd.Help()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{configPath: configPath})
			if err != nil {
				return err
			}
			defer a.Close()

			req := agent.Request{
				Prompt:     prompt,
				Model:      model,
				MaxTurns:   maxTurns,
				DryRun:     dryRun,
				Verbose:    verbose,
				Log:        a.cfg.Sessions.Enabled && !noLog,
				LogDir:     logDir,
				ResumeFrom: resume,
				Timeout:    timeout,
			}
			res, err := a.orchestrator().Run(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			a.writeMetrics()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $DESKTOP_ASSIST_CONFIG, ./desktop-assist.yaml, ~/.desktop-assist/config.yaml)")

	f := cmd.Flags()
	f.StringVar(&model, "model", "", "Model passed to the agent CLI")
	f.IntVar(&maxTurns, "max-turns", 0, "Maximum agent turns (default from config)")
	f.BoolVar(&dryRun, "dry-run", false, "Print the agent command instead of running it")
	f.BoolVarP(&verbose, "verbose", "v", false, "Show commands, tool output and agent narration")
	f.BoolVar(&noLog, "no-log", false, "Do not write a session log")
	f.StringVar(&logDir, "log-dir", "", "Session log directory (default from config)")
	f.StringVar(&resume, "resume", "", "Continue from a previous session id")
	f.DurationVar(&timeout, "timeout", 0, "Stop the agent after this long (default from config)")

	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(toolsCmd())
	cmd.AddCommand(historyCmd())
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "desktop-assist", version)
		},
	}
}

// errUsage marks argument errors that should print the command usage.
var errUsage = errors.New("invalid arguments")
