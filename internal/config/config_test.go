package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PlanMaxSteps != 64 {
		t.Fatalf("expected default plan_max_steps 64, got %d", cfg.PlanMaxSteps)
	}
	if cfg.ReplayBatchSize != 500 {
		t.Fatalf("expected default replay_batch_size 500, got %d", cfg.ReplayBatchSize)
	}
	if cfg.HumanResponseTimeout().Minutes() != 30 {
		t.Fatalf("expected default human response timeout 30m, got %s", cfg.HumanResponseTimeout())
	}
}

func TestLoadReadsFileAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "plan_max_steps: 10\nlog_level: debug\n"
	if err := os.WriteFile(ConfigPath(dir), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PlanMaxSteps != 10 {
		t.Fatalf("expected plan_max_steps 10, got %d", cfg.PlanMaxSteps)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %s", cfg.LogLevel)
	}
	if cfg.ReplayBatchSize != 500 {
		t.Fatalf("expected untouched field to keep its default, got %d", cfg.ReplayBatchSize)
	}
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(ConfigPath(dir), []byte("log_level: verbose\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for an unknown log level")
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(ConfigPath(dir), []byte("plan_max_steps: 10\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}
	t.Setenv("AMPERE_PLAN_MAX_STEPS", "20")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PlanMaxSteps != 20 {
		t.Fatalf("expected env override to win with 20, got %d", cfg.PlanMaxSteps)
	}
}

func TestResolvedDatabasePathJoinsHomeDirForRelativePath(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(dir, "ampere.db")
	if got := cfg.ResolvedDatabasePath(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
