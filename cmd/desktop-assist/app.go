package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/capability"
	"github.com/freema/desktop-assist/internal/cli"
	"github.com/freema/desktop-assist/internal/config"
	"github.com/freema/desktop-assist/internal/eventbus"
	"github.com/freema/desktop-assist/internal/history"
	"github.com/freema/desktop-assist/internal/logger"
	"github.com/freema/desktop-assist/internal/metrics"
	"github.com/freema/desktop-assist/internal/platform"
	"github.com/freema/desktop-assist/internal/redisclient"
	"github.com/freema/desktop-assist/internal/tracing"
	"github.com/freema/desktop-assist/internal/webhook"
)

// app holds everything a command needs, built once from the config.
type app struct {
	cfg      *config.Config
	host     platform.Info
	registry *capability.Registry
	runner   cli.Runner

	redis   *redisclient.Client
	bus     *eventbus.Bus
	history *history.Store
	webhook *webhook.Sender

	shutdownTracing func(context.Context) error
}

type appOptions struct {
	configPath string
	// serve raises the default log level and makes Redis mandatory once configured.
	serve bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Logging.Level
	if opts.serve && level == config.Defaults().Logging.Level {
		level = "info"
	}
	logger.Setup(level, cfg.Logging.Format, os.Stderr)

	a := &app{
		cfg:      cfg,
		host:     platform.Init(cfg.Python.Executable),
		registry: capability.NewBuiltinRegistry(),
	}

	runners := cli.NewRegistry("claude")
	runners.Register("claude", cli.NewClaudeRunner(cfg.CLI.Path))
	if a.runner, err = runners.Get(""); err != nil {
		return nil, err
	}

	a.shutdownTracing, err = tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		ServiceName:  "desktop-assist",
		Version:      version,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	if cfg.Redis.URL != "" {
		if err := a.connectRedis(ctx); err != nil {
			if opts.serve {
				a.Close()
				return nil, err
			}
			slog.Warn("live events disabled", "error", err)
		}
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			slog.Warn("run history disabled", "path", cfg.History.Path, "error", err)
		} else {
			a.history = store
		}
	}

	if cfg.Webhooks.URL != "" {
		a.webhook = webhook.NewSender(cfg.Webhooks.URL, cfg.Webhooks.HMACSecret,
			cfg.Webhooks.RetryCount, cfg.Webhooks.RetryDelay)
	}

	return a, nil
}

func (a *app) connectRedis(ctx context.Context) error {
	rdb, err := redisclient.New(a.cfg.Redis.URL, a.cfg.Redis.Prefix)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("redis connected", "url", a.cfg.Redis.URL)
	a.redis = rdb
	a.bus = eventbus.New(rdb, a.cfg.Redis.HistoryTTL)
	return nil
}

// sinks returns the configured run observers. Interface fields stay nil
// when a component is disabled.
func (a *app) sinks() agent.Sinks {
	var s agent.Sinks
	if a.bus != nil {
		s.Events = a.bus
	}
	if a.history != nil {
		s.History = a.history
	}
	if a.webhook != nil {
		s.Notifier = a.webhook
	}
	return s
}

func (a *app) orchestrator() *agent.Orchestrator {
	c := a.cfg.CLI
	return agent.NewOrchestrator(a.runner, a.registry, a.host, a.sinks(), agent.Config{
		Binary:       c.Path,
		DefaultModel: c.DefaultModel,
		MaxTurns:     c.MaxTurns,
		MaxBudgetUSD: c.MaxBudgetUSD,
		AllowedTools: c.AllowedTools,
		Timeout:      c.Timeout,
		GracePeriod:  c.GracePeriod,
		SessionDir:   a.cfg.Sessions.Dir,
		Progress:     os.Stderr,
	})
}

// writeMetrics exports the run metrics for a textfile collector, if configured.
func (a *app) writeMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		slog.Warn("writing metrics textfile failed", "path", a.cfg.Metrics.Textfile, "error", err)
	}
}

// Close releases every connection. Errors are logged.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("closing history failed", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis failed", "error", err)
		}
	}
}
