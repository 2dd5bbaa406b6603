package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SECRETARY_CONFIG", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("NOTION_API_KEY", "")
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LogLevel != DefaultServerLogLevel {
		t.Errorf("Expected default log level %s, got %s", DefaultServerLogLevel, cfg.Server.LogLevel)
	}
	if cfg.Telegram.UpdateTimeout != DefaultTelegramUpdateTimeout {
		t.Errorf("Expected default telegram update timeout %d, got %d", DefaultTelegramUpdateTimeout, cfg.Telegram.UpdateTimeout)
	}
	if !cfg.Telegram.Enabled {
		t.Error("Expected telegram enabled by default")
	}
	if cfg.Mirror.Enabled {
		t.Error("Expected mirror disabled by default")
	}
	if cfg.Notion.SyncInterval != DefaultNotionSyncInterval {
		t.Errorf("Expected default notion sync interval %s, got %s", DefaultNotionSyncInterval, cfg.Notion.SyncInterval)
	}
	if cfg.LLM.Provider != DefaultLLMProvider {
		t.Errorf("Expected default llm provider %s, got %s", DefaultLLMProvider, cfg.LLM.Provider)
	}
	if cfg.LLM.Model != DefaultLLMModel {
		t.Errorf("Expected default llm model %s, got %s", DefaultLLMModel, cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != DefaultLLMTemperature {
		t.Errorf("Expected default llm temperature %v, got %v", DefaultLLMTemperature, cfg.LLM.Temperature)
	}
	if cfg.Tracker.Interval != DefaultTrackerInterval {
		t.Errorf("Expected default tracker interval %s, got %s", DefaultTrackerInterval, cfg.Tracker.Interval)
	}
	if cfg.Tracker.FollowUp != DefaultTrackerFollowUp {
		t.Errorf("Expected default tracker follow up %s, got %s", DefaultTrackerFollowUp, cfg.Tracker.FollowUp)
	}
	if cfg.Proactivity.StateCheck != DefaultProactivityStateCheck {
		t.Errorf("Expected default state check %s, got %s", DefaultProactivityStateCheck, cfg.Proactivity.StateCheck)
	}
	if cfg.Proactivity.StateStale != DefaultProactivityStateStale {
		t.Errorf("Expected default state stale %s, got %s", DefaultProactivityStateStale, cfg.Proactivity.StateStale)
	}
	if cfg.Proactivity.StatePromptCooldown != DefaultProactivityPromptCooldown {
		t.Errorf("Expected default prompt cooldown %s, got %s", DefaultProactivityPromptCooldown, cfg.Proactivity.StatePromptCooldown)
	}
	if cfg.Proactivity.QuestionFollowUp != DefaultProactivityQuestionFollowUp {
		t.Errorf("Expected default question follow up %s, got %s", DefaultProactivityQuestionFollowUp, cfg.Proactivity.QuestionFollowUp)
	}
	if cfg.History.RotateMaxBytes != DefaultHistoryRotateMaxBytes {
		t.Errorf("Expected default rotate max bytes %d, got %d", DefaultHistoryRotateMaxBytes, cfg.History.RotateMaxBytes)
	}
	if cfg.Store.LockTimeout != DefaultStoreLockTimeout {
		t.Errorf("Expected default store lock timeout %s, got %s", DefaultStoreLockTimeout, cfg.Store.LockTimeout)
	}
	if cfg.Store.LockMaxRetry != DefaultStoreLockMaxRetry {
		t.Errorf("Expected default store lock max retry %d, got %d", DefaultStoreLockMaxRetry, cfg.Store.LockMaxRetry)
	}
	if cfg.Daemon.ShutdownTimeout != DefaultDaemonShutdownTimeout {
		t.Errorf("Expected default daemon shutdown timeout %s, got %s", DefaultDaemonShutdownTimeout, cfg.Daemon.ShutdownTimeout)
	}
	if cfg.Display.UTCOffsetHours != DefaultDisplayUTCOffsetHours {
		t.Errorf("Expected default display offset %d, got %d", DefaultDisplayUTCOffsetHours, cfg.Display.UTCOffsetHours)
	}
}

func TestLoadWithConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
server:
  log_level: debug
tracker:
  interval: 10m
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("failed to load config with --config: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.Server.LogLevel)
	}
	if cfg.Tracker.Interval != "10m" {
		t.Fatalf("expected tracker interval 10m, got %s", cfg.Tracker.Interval)
	}
}

func TestLoadWithMissingConfigFlagReturnsError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("failed to set config flag: %v", err)
	}

	if _, err := Load(cmd); err == nil {
		t.Fatal("expected error when --config points to missing file")
	}
}

func TestLoadHonorsConfigEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	configPath := filepath.Join(tmpDir, "custom.yaml")
	content := []byte(`
notion:
  sync_interval: 45m
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("SECRETARY_CONFIG", configPath)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Notion.SyncInterval != "45m" {
		t.Fatalf("expected sync interval 45m, got %s", cfg.Notion.SyncInterval)
	}
}

func TestLoad_ExpandsDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("SECRETARY_CONFIG", "")

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := []byte(`
paths:
  data_dir: ~/.secretary-test
`)
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "config file path")
	if err := cmd.Flags().Set("config", configPath); err != nil {
		t.Fatalf("set config flag: %v", err)
	}

	cfg, err := Load(cmd)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := filepath.Join(tmpDir, ".secretary-test")
	if cfg.Paths.DataDir != want {
		t.Fatalf("data dir = %q, want %q", cfg.Paths.DataDir, want)
	}
}

func TestLoadInjectsTokenEnvVars(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SECRETARY_CONFIG", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("NOTION_API_KEY", "notion-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Telegram.BotToken != "tg-token" {
		t.Errorf("telegram token = %q, want tg-token", cfg.Telegram.BotToken)
	}
	if cfg.Notion.APIKey != "notion-key" {
		t.Errorf("notion key = %q, want notion-key", cfg.Notion.APIKey)
	}
	if cfg.LLM.APIKey != "openai-key" {
		t.Errorf("llm key = %q, want openai-key", cfg.LLM.APIKey)
	}
}

func TestFloorDuration(t *testing.T) {
	if got := FloorDuration(10*time.Second, time.Minute); got != time.Minute {
		t.Fatalf("FloorDuration below min = %v, want 1m", got)
	}
	if got := FloorDuration(5*time.Minute, time.Minute); got != 5*time.Minute {
		t.Fatalf("FloorDuration above min = %v, want 5m", got)
	}
}
