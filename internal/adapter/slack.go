package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"

	"github.com/slack-go/slack"
)

// SlackMirror is an output-only adapter that copies outbound messages
// into one Slack channel, prefixed with the originating chat id. It
// exists so a desktop Slack workspace can shadow what the bot tells the
// user on Telegram.
type SlackMirror struct {
	channel string
	client  *slack.Client
}

func NewSlackMirror(botToken, channel string) *SlackMirror {
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	return &SlackMirror{
		channel: channel,
		client:  slack.New(botToken),
	}
}

func (s *SlackMirror) Name() string {
	return "slack"
}

func (s *SlackMirror) Send(ctx context.Context, chatID int64, text string) error {
	body := fmt.Sprintf("[chat %d] %s", chatID, text)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(body, false))
	if err != nil {
		return errors.Wrap(err, "failed to mirror message to Slack")
	}
	slog.Debug("Message mirrored to Slack", "channel", s.channel, "chat_id", chatID)
	return nil
}

func (s *SlackMirror) Health(ctx context.Context) error {
	if s.client == nil {
		return errors.Transient("Slack client not initialized")
	}

	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return errors.Transient("Slack connection failed")
	}

	return nil
}
