package llm

import (
	"context"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/llm/contract"
)

// Provider is one language-model backend. Embed returns an error when
// the backend has no embedding endpoint; callers treat that as "recall
// disabled", not as a failure.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}
