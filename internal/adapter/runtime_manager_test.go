package adapter

import (
	"context"
	"testing"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
)

func TestNewRuntimeManager_TelegramRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	_, err := NewRuntimeManager(config.TelegramConfig{Enabled: true}, config.MirrorConfig{}, nil, 0)
	if err == nil {
		t.Fatal("expected error when telegram is enabled without a token")
	}
}

func TestNewRuntimeManager_DisabledTelegramFallsBackToNull(t *testing.T) {
	m, err := NewRuntimeManager(config.TelegramConfig{Enabled: false}, config.MirrorConfig{}, nil, 0)
	if err != nil {
		t.Fatalf("NewRuntimeManager returned error: %v", err)
	}
	primary := m.Primary()
	if primary == nil || primary.Name() != "null" {
		t.Fatalf("expected null primary adapter, got %v", primary)
	}
	if len(m.Mirrors()) != 0 {
		t.Errorf("expected no mirrors, got %d", len(m.Mirrors()))
	}
	if err := m.Health(context.Background()); err != nil {
		t.Errorf("Health() returned error: %v", err)
	}
}

func TestNewRuntimeManager_MirrorRequiresChannel(t *testing.T) {
	_, err := NewRuntimeManager(config.TelegramConfig{}, config.MirrorConfig{
		Enabled:       true,
		SlackBotToken: "xoxb-test",
	}, nil, 0)
	if err == nil {
		t.Fatal("expected error when mirror is enabled without a channel")
	}
}

func TestNewRuntimeManager_MirrorConfigured(t *testing.T) {
	m, err := NewRuntimeManager(config.TelegramConfig{}, config.MirrorConfig{
		Enabled:       true,
		SlackBotToken: "xoxb-test",
		SlackChannel:  "#secretary",
	}, nil, 0)
	if err != nil {
		t.Fatalf("NewRuntimeManager returned error: %v", err)
	}
	mirrors := m.Mirrors()
	if len(mirrors) != 1 || mirrors[0].Name() != "slack" {
		t.Fatalf("expected one slack mirror, got %v", mirrors)
	}
}

func TestRuntimeManager_StopWithoutStart(t *testing.T) {
	m, err := NewRuntimeManager(config.TelegramConfig{}, config.MirrorConfig{}, nil, 0)
	if err != nil {
		t.Fatalf("NewRuntimeManager returned error: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() before Start() returned error: %v", err)
	}
}
