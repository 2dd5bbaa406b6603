package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/concurrency"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
)

// RuntimeManager owns the adapter lifecycle: the single primary
// transport the bot talks through, the optional mirror outputs, and
// the input long-poll loops.
type RuntimeManager struct {
	mu      sync.RWMutex
	inputs  []InputAdapter
	primary OutputAdapter
	mirrors []OutputAdapter
	started bool
}

// NewRuntimeManager builds the configured transports. resumeAfter is
// the highest update id already processed; the Telegram poll starts
// past it so a restart does not replay handled updates.
func NewRuntimeManager(telegram config.TelegramConfig, mirror config.MirrorConfig, eventHandler EventHandler, resumeAfter int64) (*RuntimeManager, error) {
	m := &RuntimeManager{}

	if telegram.Enabled {
		token := strings.TrimSpace(telegram.BotToken)
		if token == "" {
			token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
		}
		if token == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when the telegram adapter is enabled")
		}

		telegramAdapter := NewTelegramAdapter(token, eventHandler, telegram.UpdateTimeout, telegram.AllowedChatIDs, resumeAfter)
		m.inputs = append(m.inputs, telegramAdapter)
		m.primary = telegramAdapter
	} else {
		m.primary = NewNullAdapter("null")
	}

	if mirror.Enabled {
		if strings.TrimSpace(mirror.SlackBotToken) == "" && strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")) == "" {
			return nil, fmt.Errorf("mirror.slack_bot_token is required when the mirror is enabled")
		}
		if strings.TrimSpace(mirror.SlackChannel) == "" {
			return nil, fmt.Errorf("mirror.slack_channel is required when the mirror is enabled")
		}
		m.mirrors = append(m.mirrors, NewSlackMirror(mirror.SlackBotToken, mirror.SlackChannel))
	}

	return m, nil
}

// Primary returns the transport user-facing messages go through.
func (m *RuntimeManager) Primary() OutputAdapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primary
}

// Mirrors returns the best-effort copy targets.
func (m *RuntimeManager) Mirrors() []OutputAdapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OutputAdapter, len(m.mirrors))
	copy(out, m.mirrors)
	return out
}

func (m *RuntimeManager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	inputs := make([]InputAdapter, len(m.inputs))
	copy(inputs, m.inputs)
	m.mu.Unlock()

	for _, input := range inputs {
		adapter := input
		concurrency.SafeGo("adapter:"+adapter.Name(), func() {
			slog.Info("Starting input adapter", "adapter", adapter.Name())
			if err := adapter.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Input adapter stopped with error", "adapter", adapter.Name(), "error", err)
			}
		})
	}
}

func (m *RuntimeManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	inputs := make([]InputAdapter, len(m.inputs))
	copy(inputs, m.inputs)
	m.mu.Unlock()

	var errs []string
	for _, input := range inputs {
		if err := input.Stop(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", input.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop adapters: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m *RuntimeManager) Health(ctx context.Context) error {
	m.mu.RLock()
	inputs := make([]InputAdapter, len(m.inputs))
	copy(inputs, m.inputs)
	primary := m.primary
	mirrors := make([]OutputAdapter, len(m.mirrors))
	copy(mirrors, m.mirrors)
	m.mu.RUnlock()

	for _, input := range inputs {
		if err := input.Health(ctx); err != nil {
			return fmt.Errorf("input adapter %s unhealthy: %w", input.Name(), err)
		}
	}
	if primary != nil {
		if err := primary.Health(ctx); err != nil {
			return fmt.Errorf("output adapter %s unhealthy: %w", primary.Name(), err)
		}
	}
	for _, output := range mirrors {
		if err := output.Health(ctx); err != nil {
			return fmt.Errorf("output adapter %s unhealthy: %w", output.Name(), err)
		}
	}
	return nil
}
