// Package config loads CoreConfig: the handful of knobs the coordination
// core needs at startup (timeouts, batch sizes, telemetry target, home
// directory), from a YAML file with environment-variable overrides for
// anything secret.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TracingConfig controls the OpenTelemetry exporter used by internal/tracing.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // "stdout", "otlp", or "" (noop)
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// CoreConfig is the AMPERE coordination core's configuration, loaded from
// config.yaml under HomeDir with environment-variable overrides applied on
// top.
type CoreConfig struct {
	HomeDir string `yaml:"-"`

	// DatabasePath is the sqlite file the persistence.Store opens. A
	// relative path is resolved against HomeDir.
	DatabasePath string `yaml:"database_path"`

	LogLevel string `yaml:"log_level"`

	// HumanResponseTimeoutSeconds bounds how long a thread escalation
	// waits for a human reply before the wait resolves TimedOut.
	// 0 uses the default (1800s / 30m).
	HumanResponseTimeoutSeconds int `yaml:"human_response_timeout_seconds"`

	// ReplayBatchSize is the page size internal/bus.ReplayEvents uses
	// when walking event_log. 0 uses the default (500).
	ReplayBatchSize int `yaml:"replay_batch_size"`

	// PlanMaxSteps bounds the number of steps internal/planexec will
	// execute for a single plan, guarding against runaway or malformed
	// plans. 0 uses the default (64).
	PlanMaxSteps int `yaml:"plan_max_steps"`

	// TicketRetentionDays is the age, in days, past which a terminal
	// ticket (and its knowledge) is eligible for pruning by
	// internal/retention.Scheduler. 0 disables the sweep.
	TicketRetentionDays int `yaml:"ticket_retention_days"`

	// RetentionSweepIntervalMinutes controls how often the retention
	// sweep fires. 0 uses the default (60).
	RetentionSweepIntervalMinutes int `yaml:"retention_sweep_interval_minutes"`

	Tracing TracingConfig `yaml:"tracing"`
}

// Default returns a CoreConfig with every field set to its production
// default.
func Default() CoreConfig {
	return CoreConfig{
		DatabasePath:                   "ampere.db",
		LogLevel:                       "info",
		HumanResponseTimeoutSeconds:    int((30 * time.Minute).Seconds()),
		ReplayBatchSize:                500,
		PlanMaxSteps:                   64,
		TicketRetentionDays:            90,
		RetentionSweepIntervalMinutes:  60,
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "ampere",
			SampleRate:  1.0,
		},
	}
}

// HumanResponseTimeout returns the configured timeout as a time.Duration.
func (c CoreConfig) HumanResponseTimeout() time.Duration {
	return time.Duration(c.HumanResponseTimeoutSeconds) * time.Second
}

// ResolvedDatabasePath returns DatabasePath resolved against HomeDir when
// it isn't already absolute.
func (c CoreConfig) ResolvedDatabasePath() string {
	if filepath.IsAbs(c.DatabasePath) {
		return c.DatabasePath
	}
	return filepath.Join(c.HomeDir, c.DatabasePath)
}

// HomeDirFromEnv resolves the process's AMPERE home directory: AMPERE_HOME
// if set, else ~/.ampere, else the current directory.
func HomeDirFromEnv() string {
	if override := os.Getenv("AMPERE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ampere")
}

// ConfigPath returns the path to config.yaml within homeDir.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from homeDir (creating homeDir if needed),
// applies defaults for anything unset, applies environment-variable
// overrides, and validates the result eagerly so a bad config file fails
// at startup rather than at first use.
func Load(homeDir string) (CoreConfig, error) {
	cfg := Default()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create ampere home: %w", err)
	}

	path := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(data) > 0:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
		cfg.HomeDir = homeDir
	case err != nil && !os.IsNotExist(err):
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *CoreConfig) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "ampere.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HumanResponseTimeoutSeconds <= 0 {
		cfg.HumanResponseTimeoutSeconds = int((30 * time.Minute).Seconds())
	}
	if cfg.ReplayBatchSize <= 0 {
		cfg.ReplayBatchSize = 500
	}
	if cfg.PlanMaxSteps <= 0 {
		cfg.PlanMaxSteps = 64
	}
	if cfg.RetentionSweepIntervalMinutes <= 0 {
		cfg.RetentionSweepIntervalMinutes = 60
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "ampere"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
}

// validate rejects a config that would otherwise fail confusingly deep
// inside some other package at first use.
func (c CoreConfig) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.PlanMaxSteps <= 0 {
		return fmt.Errorf("plan_max_steps: must be positive, got %d", c.PlanMaxSteps)
	}
	if c.ReplayBatchSize <= 0 {
		return fmt.Errorf("replay_batch_size: must be positive, got %d", c.ReplayBatchSize)
	}
	if c.HumanResponseTimeoutSeconds <= 0 {
		return fmt.Errorf("human_response_timeout_seconds: must be positive, got %d", c.HumanResponseTimeoutSeconds)
	}
	if c.TicketRetentionDays < 0 {
		return fmt.Errorf("ticket_retention_days: must be >= 0, got %d", c.TicketRetentionDays)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate: must be within [0,1], got %f", c.Tracing.SampleRate)
	}
	return nil
}

func applyEnvOverrides(cfg *CoreConfig) {
	if raw := os.Getenv("AMPERE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("AMPERE_DATABASE_PATH"); raw != "" {
		cfg.DatabasePath = raw
	}
	if raw := os.Getenv("AMPERE_HUMAN_RESPONSE_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HumanResponseTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("AMPERE_REPLAY_BATCH_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.ReplayBatchSize = v
		}
	}
	if raw := os.Getenv("AMPERE_PLAN_MAX_STEPS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.PlanMaxSteps = v
		}
	}
	if raw := os.Getenv("AMPERE_TICKET_RETENTION_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.TicketRetentionDays = v
		}
	}
	if raw := os.Getenv("AMPERE_TRACING_EXPORTER"); raw != "" {
		cfg.Tracing.Exporter = raw
		cfg.Tracing.Enabled = true
	}
	if raw := os.Getenv("AMPERE_TRACING_ENDPOINT"); raw != "" {
		cfg.Tracing.Endpoint = raw
	}
}
