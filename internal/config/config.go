package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix      = "DESKTOP_ASSIST_"
	defaultFile    = "desktop-assist.yaml"
	homeDirName    = ".desktop-assist"
	homeConfigFile = "config.yaml"
)

var validate = validator.New()

type Config struct {
	CLI      CLIConfig      `koanf:"cli"`
	Sessions SessionsConfig `koanf:"sessions"`
	Python   PythonConfig   `koanf:"python"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing"`
	Redis    RedisConfig    `koanf:"redis"`
	History  HistoryConfig  `koanf:"history"`
	Webhooks WebhookConfig  `koanf:"webhooks"`
	Server   ServerConfig   `koanf:"server"`
}

type CLIConfig struct {
	Path         string        `koanf:"path" validate:"required"`
	DefaultModel string        `koanf:"default_model"`
	MaxTurns     int           `koanf:"max_turns" validate:"min=1,max=500"`
	MaxBudgetUSD float64       `koanf:"max_budget_usd" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	GracePeriod  time.Duration `koanf:"grace_period" validate:"gt=0"`
	AllowedTools []string      `koanf:"allowed_tools" validate:"min=1,dive,required"`
}

type SessionsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir" validate:"required"`
}

type PythonConfig struct {
	Executable string `koanf:"executable"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	// Textfile, when set, receives a Prometheus text exposition after each CLI run.
	Textfile string `koanf:"textfile"`
}

type TracingConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
}

type RedisConfig struct {
	URL        string        `koanf:"url"`
	Prefix     string        `koanf:"prefix"`
	HistoryTTL time.Duration `koanf:"history_ttl"`
}

type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type WebhookConfig struct {
	URL        string        `koanf:"url" validate:"omitempty,url"`
	HMACSecret string        `koanf:"hmac_secret"`
	RetryCount int           `koanf:"retry_count" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `koanf:"retry_delay"`
}

type ServerConfig struct {
	Addr          string `koanf:"addr" validate:"required"`
	AuthToken     string `koanf:"auth_token"`
	RunsPerMinute int    `koanf:"runs_per_minute" validate:"gte=0"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	base := homeBase()
	return &Config{
		CLI: CLIConfig{
			Path:         "claude",
			MaxTurns:     30,
			MaxBudgetUSD: 1.00,
			Timeout:      30 * time.Minute,
			GracePeriod:  3 * time.Second,
			AllowedTools: []string{"Bash", "Read"},
		},
		Sessions: SessionsConfig{
			Enabled: true,
			Dir:     filepath.Join(base, "sessions"),
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Tracing: TracingConfig{
			SamplingRate: 1.0,
		},
		Redis: RedisConfig{
			Prefix:     "desktop-assist:",
			HistoryTTL: 24 * time.Hour,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(base, "history.db"),
		},
		Webhooks: WebhookConfig{
			RetryCount: 3,
			RetryDelay: 5 * time.Second,
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8765",
			RunsPerMinute: 6,
		},
	}
}

// Load reads configuration from YAML file + environment variables.
// Loading order: defaults → YAML file → env vars (later overrides earlier).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Defaults()

	if configPath == "" {
		configPath = os.Getenv(envPrefix + "CONFIG")
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	} else {
		// Optional locations, first one found wins.
		for _, p := range []string{defaultFile, filepath.Join(homeBase(), homeConfigFile)} {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", p, err)
			}
			break
		}
	}

	// DESKTOP_ASSIST_CLI__PATH → cli.path
	// Double underscore (__) separates nesting levels.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Sessions.Dir = ExpandHome(cfg.Sessions.Dir)
	cfg.History.Path = ExpandHome(cfg.History.Path)
	cfg.Metrics.Textfile = ExpandHome(cfg.Metrics.Textfile)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tags and cross-field constraints.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("config: %s failed %q validation", strings.ToLower(e.Namespace()), e.Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Webhooks.URL != "" && cfg.Webhooks.HMACSecret == "" {
		return fmt.Errorf("config: webhooks.hmac_secret is required when webhooks.url is set (set %sWEBHOOKS__HMAC_SECRET)", envPrefix)
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("config: tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func homeBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return homeDirName
	}
	return filepath.Join(home, homeDirName)
}
