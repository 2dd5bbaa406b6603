package history

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Embedder turns text into a vector. The LLM provider layer supplies
// one when the configured provider supports embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Recall indexes exchanges as they happen and finds the stored ones
// closest to a query. It is a best-effort layer: indexing failures are
// logged and never interrupt the conversation.
type Recall struct {
	store    *Store
	embedder Embedder
}

func NewRecall(store *Store, embedder Embedder) *Recall {
	return &Recall{store: store, embedder: embedder}
}

// Enabled reports whether recall can actually index and search.
func (r *Recall) Enabled() bool {
	return r != nil && r.store != nil && r.store.vectorDB != nil && r.embedder != nil
}

// Remember embeds one exchange and adds it to the chat's index.
func (r *Recall) Remember(ctx context.Context, chatID int64, direction, text string) {
	if !r.Enabled() || strings.TrimSpace(text) == "" {
		return
	}
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("Failed to embed exchange", "chat_id", chatID, "error", err)
		return
	}
	err = r.store.UpsertVector(chatID, ulid.Make().String(), vector, map[string]string{
		"direction": direction,
		"at":        r.store.clk.Now().UTC().Format("2006-01-02 15:04:05"),
	}, text)
	if err != nil {
		slog.Warn("Failed to index exchange", "chat_id", chatID, "error", err)
	}
}

// Search returns up to limit stored exchanges relevant to query.
func (r *Recall) Search(ctx context.Context, chatID int64, query string, limit int) ([]VectorResult, error) {
	if !r.Enabled() || strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.store.SearchVectors(chatID, vector, limit)
}
