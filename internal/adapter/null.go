package adapter

import "context"

// NullAdapter swallows messages. It stands in for the primary output
// when the Telegram transport is disabled (local development, tests).
type NullAdapter struct {
	name string
}

func NewNullAdapter(name string) *NullAdapter {
	if name == "" {
		name = "null"
	}
	return &NullAdapter{name: name}
}

func (a *NullAdapter) Name() string {
	return a.name
}

func (a *NullAdapter) Send(ctx context.Context, chatID int64, text string) error {
	return nil
}

func (a *NullAdapter) Health(ctx context.Context) error {
	return nil
}
