package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"

	"github.com/spf13/cobra"
)

func TestConfigInitCmd(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cmd := &cobra.Command{}
	args := []string{}

	if err := configInitCmd.RunE(cmd, args); err != nil {
		t.Errorf("Config init failed: %v", err)
	}

	configPath := filepath.Join(tmpDir, ".secretary", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Config file not created at %s", configPath)
	}

	cmd2 := &cobra.Command{}
	args2 := []string{}
	if err := configInitCmd.RunE(cmd2, args2); err != nil {
		t.Errorf("Config init should succeed when config exists: %v", err)
	}
}

func TestRedactConfigSecrets(t *testing.T) {
	original := &config.Config{
		Telegram: config.TelegramConfig{BotToken: "telegram-secret-token"},
		Mirror:   config.MirrorConfig{SlackBotToken: "xoxb-secret"},
		Notion:   config.NotionConfig{APIKey: "ntn-secret-key"},
		LLM:      config.LLMConfig{APIKey: "sk-secret-123456"},
	}

	redacted := redactConfigSecrets(original)

	if redacted == nil {
		t.Fatal("redacted config should not be nil")
	}
	if redacted.Telegram.BotToken == original.Telegram.BotToken {
		t.Fatal("telegram bot token should be masked")
	}
	if redacted.Mirror.SlackBotToken == original.Mirror.SlackBotToken {
		t.Fatal("slack bot token should be masked")
	}
	if redacted.Notion.APIKey == original.Notion.APIKey {
		t.Fatal("notion api key should be masked")
	}
	if strings.Contains(redacted.LLM.APIKey, "secret") {
		t.Fatal("masked llm api key should not leak original value")
	}

	// Ensure original struct is not mutated.
	if original.Notion.APIKey != "ntn-secret-key" {
		t.Fatal("original config must not be modified")
	}
}

func TestMaskSecret(t *testing.T) {
	if got := maskSecret(""); got != "" {
		t.Fatalf("empty secret: got %q", got)
	}
	if got := maskSecret("abc"); got != "****" {
		t.Fatalf("short secret: got %q", got)
	}

	got := maskSecret("abcdef")
	if len(got) != len("abcdef") {
		t.Fatalf("masked secret length mismatch: got %d", len(got))
	}
	if got[:2] != "ab" || got[len(got)-2:] != "ef" {
		t.Fatalf("masked secret should preserve prefix/suffix: got %q", got)
	}
}
