package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/pathutil"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Paths       PathsConfig       `koanf:"paths"`
	Telegram    TelegramConfig    `koanf:"telegram"`
	Mirror      MirrorConfig      `koanf:"mirror"`
	Notion      NotionConfig      `koanf:"notion"`
	LLM         LLMConfig         `koanf:"llm"`
	Tracker     TrackerConfig     `koanf:"tracker"`
	Proactivity ProactivityConfig `koanf:"proactivity"`
	History     HistoryConfig     `koanf:"history"`
	Store       StoreConfig       `koanf:"store"`
	Daemon      DaemonConfig      `koanf:"daemon"`
	Display     DisplayConfig     `koanf:"display"`
}

type ServerConfig struct {
	LogLevel string `koanf:"log_level"`
}

type PathsConfig struct {
	DataDir string `koanf:"data_dir"`
}

type TelegramConfig struct {
	Enabled        bool    `koanf:"enabled"`
	BotToken       string  `koanf:"bot_token"`
	UpdateTimeout  int     `koanf:"update_timeout"`
	AllowedChatIDs []int64 `koanf:"allowed_chat_ids"`
	DedupeTTL      string  `koanf:"dedupe_ttl"`
}

type MirrorConfig struct {
	Enabled       bool   `koanf:"enabled"`
	SlackBotToken string `koanf:"slack_bot_token"`
	SlackChannel  string `koanf:"slack_channel"`
}

type NotionConfig struct {
	APIKey         string `koanf:"api_key"`
	TaskDatabaseID string `koanf:"task_database_id"`
	LogDatabaseID  string `koanf:"log_database_id"`
	SyncInterval   string `koanf:"sync_interval"`
	SyncSchedule   string `koanf:"sync_schedule"`
	RequestTimeout string `koanf:"request_timeout"`
}

type LLMConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Provider       string  `koanf:"provider"`
	Model          string  `koanf:"model"`
	BaseURL        string  `koanf:"base_url"`
	APIKey         string  `koanf:"api_key"`
	Temperature    float64 `koanf:"temperature"`
	HistoryLimit   int     `koanf:"history_limit"`
	RecallLimit    int     `koanf:"recall_limit"`
	RequestTimeout string  `koanf:"request_timeout"`
}

type TrackerConfig struct {
	Interval string `koanf:"interval"`
	FollowUp string `koanf:"follow_up"`
}

type ProactivityConfig struct {
	StateCheck          string `koanf:"state_check"`
	StateStale          string `koanf:"state_stale"`
	StatePromptCooldown string `koanf:"state_prompt_cooldown"`
	QuestionFollowUp    string `koanf:"question_follow_up"`
}

type HistoryConfig struct {
	RotateMaxBytes int64 `koanf:"rotate_max_bytes"`
	RecallEnabled  bool  `koanf:"recall_enabled"`
}

type StoreConfig struct {
	LockTimeout  string `koanf:"lock_timeout"`
	LockRetry    string `koanf:"lock_retry"`
	LockMaxRetry int    `koanf:"lock_max_retry"`
}

type DaemonConfig struct {
	ShutdownTimeout     string `koanf:"shutdown_timeout"`
	HealthCheckInterval string `koanf:"health_check_interval"`
	StaleLockTTL        string `koanf:"stale_lock_ttl"`
}

type DisplayConfig struct {
	UTCOffsetHours int `koanf:"utc_offset_hours"`
}

const (
	DefaultServerLogLevel              = "info"
	DefaultTelegramUpdateTimeout       = 25
	DefaultTelegramDedupeTTL           = "24h"
	DefaultNotionSyncInterval          = "30m"
	DefaultNotionRequestTimeout        = "15s"
	DefaultLLMEnabled                  = true
	DefaultLLMProvider                 = "openai"
	DefaultLLMModel                    = "gpt-4o-mini"
	DefaultLLMTemperature              = 0.3
	DefaultLLMHistoryLimit             = 12
	DefaultLLMRecallLimit              = 4
	DefaultLLMRequestTimeout           = "60s"
	DefaultTrackerInterval             = "25m"
	DefaultTrackerFollowUp             = "10m"
	DefaultProactivityStateCheck       = "5m"
	DefaultProactivityStateStale       = "1h"
	DefaultProactivityPromptCooldown   = "10m"
	DefaultProactivityQuestionFollowUp = "10m"
	DefaultHistoryRotateMaxBytes       = 10 * 1024 * 1024
	DefaultHistoryRecallEnabled        = true
	DefaultStoreLockTimeout            = "30s"
	DefaultStoreLockRetry              = "100ms"
	DefaultStoreLockMaxRetry           = 300
	DefaultDaemonShutdownTimeout       = "30s"
	DefaultDaemonHealthCheckInterval   = "30s"
	DefaultDaemonStaleLockTTL          = "15m"
	DefaultDisplayUTCOffsetHours       = 8
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.log_level":                  DefaultServerLogLevel,
		"paths.data_dir":                    "",
		"telegram.enabled":                  true,
		"telegram.update_timeout":           DefaultTelegramUpdateTimeout,
		"telegram.dedupe_ttl":               DefaultTelegramDedupeTTL,
		"mirror.enabled":                    false,
		"notion.sync_interval":              DefaultNotionSyncInterval,
		"notion.sync_schedule":              "",
		"notion.request_timeout":            DefaultNotionRequestTimeout,
		"llm.enabled":                       DefaultLLMEnabled,
		"llm.provider":                      DefaultLLMProvider,
		"llm.model":                         DefaultLLMModel,
		"llm.temperature":                   DefaultLLMTemperature,
		"llm.history_limit":                 DefaultLLMHistoryLimit,
		"llm.recall_limit":                  DefaultLLMRecallLimit,
		"llm.request_timeout":               DefaultLLMRequestTimeout,
		"tracker.interval":                  DefaultTrackerInterval,
		"tracker.follow_up":                 DefaultTrackerFollowUp,
		"proactivity.state_check":           DefaultProactivityStateCheck,
		"proactivity.state_stale":           DefaultProactivityStateStale,
		"proactivity.state_prompt_cooldown": DefaultProactivityPromptCooldown,
		"proactivity.question_follow_up":    DefaultProactivityQuestionFollowUp,
		"history.rotate_max_bytes":          DefaultHistoryRotateMaxBytes,
		"history.recall_enabled":            DefaultHistoryRecallEnabled,
		"store.lock_timeout":                DefaultStoreLockTimeout,
		"store.lock_retry":                  DefaultStoreLockRetry,
		"store.lock_max_retry":              DefaultStoreLockMaxRetry,
		"daemon.shutdown_timeout":           DefaultDaemonShutdownTimeout,
		"daemon.health_check_interval":      DefaultDaemonHealthCheckInterval,
		"daemon.stale_lock_ttl":             DefaultDaemonStaleLockTTL,
		"display.utc_offset_hours":          DefaultDisplayUTCOffsetHours,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading: --config flag, then SECRETARY_CONFIG, then the
	// default location.
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv("SECRETARY_CONFIG"))
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".secretary", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("SECRETARY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SECRETARY_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := normalizePathFields(&cfg); err != nil {
		return nil, err
	}

	// Post-Process: Inject standard Env Vars if missing
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = token
	}
	if key := os.Getenv("NOTION_API_KEY"); key != "" && cfg.Notion.APIKey == "" {
		cfg.Notion.APIKey = key
	}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && cfg.Mirror.SlackBotToken == "" {
		cfg.Mirror.SlackBotToken = token
	}
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}

	return &cfg, nil
}

func normalizePathFields(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	dataDir := strings.TrimSpace(cfg.Paths.DataDir)
	if dataDir == "" {
		return nil
	}
	expanded, err := pathutil.Expand(dataDir)
	if err != nil {
		return err
	}
	cfg.Paths.DataDir = expanded
	return nil
}
