package adapter

import (
	"context"
)

// EventHandler is a callback for inbound chat messages. updateID is the
// transport's delivery identifier and feeds the idempotency layer.
// This keeps adapters decoupled from the command router.
type EventHandler func(ctx context.Context, chatID int64, updateID int64, text string, metadata map[string]string) error

// InputAdapter defines the interface for adapters that receive messages from chat platforms
type InputAdapter interface {
	// Name returns the adapter name (e.g. "telegram").
	Name() string

	// Start begins listening for messages (e.g. starts a long-poll loop).
	// Must respect context cancellation.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the adapter.
	Stop(ctx context.Context) error

	// Health checks if the adapter is healthy and connected.
	Health(ctx context.Context) error
}

// OutputAdapter defines the interface for adapters that deliver messages to chat platforms
type OutputAdapter interface {
	// Name returns the adapter name.
	Name() string

	// Send delivers text to the chat.
	Send(ctx context.Context, chatID int64, text string) error

	// Health checks if the adapter is healthy and can send messages.
	Health(ctx context.Context) error
}
