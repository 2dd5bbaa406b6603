package egress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/adapter"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logger"
)

// Dispatcher fans outbound messages to the primary transport and any
// mirror outputs. The primary send is authoritative: a mirror failure
// is logged and swallowed so a broken Slack token never blocks the
// user's Telegram chat.
type Dispatcher struct {
	mu        sync.RWMutex
	primary   adapter.OutputAdapter
	mirrors   []adapter.OutputAdapter
	afterSend func(chatID int64, text string)
}

func NewDispatcher(primary adapter.OutputAdapter, mirrors []adapter.OutputAdapter) *Dispatcher {
	return &Dispatcher{
		primary: primary,
		mirrors: mirrors,
	}
}

// SetOutputs replaces the adapters. The daemon constructs the
// dispatcher before the transports exist and fills them in here once
// the adapter runtime is up.
func (d *Dispatcher) SetOutputs(primary adapter.OutputAdapter, mirrors []adapter.OutputAdapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primary = primary
	d.mirrors = mirrors
}

// SetAfterSend installs a hook that runs after every successful primary
// send. The proactivity scheduler and the transcript store use it to
// observe agent activity.
func (d *Dispatcher) SetAfterSend(fn func(chatID int64, text string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.afterSend = fn
}

// SendMessage delivers text to the chat through the primary adapter,
// then copies it to the mirrors best-effort.
func (d *Dispatcher) SendMessage(ctx context.Context, chatID int64, text string) error {
	d.mu.RLock()
	primary := d.primary
	mirrors := d.mirrors
	afterSend := d.afterSend
	d.mu.RUnlock()

	if primary == nil {
		return errors.Internal("no primary output adapter configured")
	}

	if err := primary.Send(ctx, chatID, text); err != nil {
		return errors.Wrap(err, "failed to send message")
	}

	for _, mirror := range mirrors {
		if err := mirror.Send(ctx, chatID, text); err != nil {
			slog.Warn("Mirror send failed", "adapter", mirror.Name(), "chat_id", chatID, "error", err)
		}
	}

	if afterSend != nil {
		afterSend(chatID, text)
	}

	if trace := logger.GetTraceID(ctx); trace != "" {
		slog.Debug("Message dispatched", "chat_id", logger.GetChatID(ctx), "trace_id", trace, "content_length", len(text))
	} else {
		slog.Debug("Message dispatched", "chat_id", chatID, "content_length", len(text))
	}
	return nil
}

func (d *Dispatcher) Health(ctx context.Context) error {
	d.mu.RLock()
	primary := d.primary
	mirrors := d.mirrors
	d.mu.RUnlock()

	if primary == nil {
		return errors.Internal("no primary output adapter configured")
	}

	var unhealthy []string
	if err := primary.Health(ctx); err != nil {
		unhealthy = append(unhealthy, primary.Name())
		slog.Warn("Adapter unhealthy", "name", primary.Name(), "error", err)
	}
	for _, mirror := range mirrors {
		if err := mirror.Health(ctx); err != nil {
			unhealthy = append(unhealthy, mirror.Name())
			slog.Warn("Adapter unhealthy", "name", mirror.Name(), "error", err)
		}
	}

	if len(unhealthy) > 0 {
		return errors.Transient(fmt.Sprintf("%d adapter(s) unhealthy: %v", len(unhealthy), unhealthy))
	}

	return nil
}
