package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramAdapter struct {
	token         string
	updateTimeout int
	resumeAfter   int64
	allowedChats  map[int64]bool
	eventHandler  EventHandler
	bot           *tgbotapi.BotAPI
	updates       tgbotapi.UpdatesChannel
}

// NewTelegramAdapter builds the long-poll transport. resumeAfter is the
// last update id already handled; polling starts at the next one.
func NewTelegramAdapter(token string, eventHandler EventHandler, updateTimeout int, allowedChatIDs []int64, resumeAfter int64) *TelegramAdapter {
	if updateTimeout <= 0 {
		updateTimeout = config.DefaultTelegramUpdateTimeout
	}
	var allowed map[int64]bool
	if len(allowedChatIDs) > 0 {
		allowed = make(map[int64]bool, len(allowedChatIDs))
		for _, id := range allowedChatIDs {
			allowed[id] = true
		}
	}
	return &TelegramAdapter{
		token:         token,
		updateTimeout: updateTimeout,
		resumeAfter:   resumeAfter,
		allowedChats:  allowed,
		eventHandler:  eventHandler,
	}
}

// pollOffset is the Telegram offset parameter: one past the last update
// already handled, zero when starting fresh.
func (t *TelegramAdapter) pollOffset() int {
	if t.resumeAfter <= 0 {
		return 0
	}
	return int(t.resumeAfter) + 1
}

func (t *TelegramAdapter) Name() string {
	return "telegram"
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}

	slog.Info("Telegram adapter started", "user", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(t.pollOffset())
	u.Timeout = t.updateTimeout

	t.updates = t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-t.updates:
				t.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	chatID := msg.Chat.ID
	if t.allowedChats != nil && !t.allowedChats[chatID] {
		slog.Debug("Ignoring message from unlisted chat", "chat_id", chatID)
		return
	}

	metadata := map[string]string{
		"msg_id": fmt.Sprintf("%d", msg.MessageID),
	}
	if msg.From != nil {
		metadata["user_id"] = fmt.Sprintf("%d", msg.From.ID)
		metadata["user_name"] = msg.From.UserName
	}

	if t.eventHandler != nil {
		// UpdateID is globally unique and sequential, which makes it the
		// idempotency key for deliveries.
		if err := t.eventHandler(ctx, chatID, int64(update.UpdateID), msg.Text, metadata); err != nil {
			slog.Error("Failed to handle Telegram update", "chat_id", chatID, "error", err)
		}
	}
}

// Send delivers text to the chat.
func (t *TelegramAdapter) Send(ctx context.Context, chatID int64, text string) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}

	slog.Debug("Telegram message sent", "chat_id", chatID)
	return nil
}

func (t *TelegramAdapter) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}

	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient("Telegram connection failed: " + err.Error())
	}

	return nil
}
