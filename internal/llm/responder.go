package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/history"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/llm/contract"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"
)

// DisabledNotice is the reply when no provider is configured.
const DisabledNotice = "The assistant is not configured. Set llm.api_key in the config to enable replies."

const systemPromptTemplate = `You are a personal secretary bot that keeps the user on track over chat.
Current time: %s.
Rules:
- Be brief and direct. Short replies for status questions, structured lists for plans.
- All timing statements must be anchored to the current time above; never estimate elapsed time.
- When summarizing tasks, include the task name, due time, status and next step.
- Base everything on facts from the conversation; if a task is unclear, ask one precise question.
- Reminder intervals can be customized to any duration of 5 minutes or more.`

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	Provider     Provider
	History      *history.Store
	Recall       *history.Recall
	Times        *timeutil.Formatter
	Clock        clock.Clock
	Model        string
	Temperature  float64
	HistoryLimit int
	RecallLimit  int
	Timeout      time.Duration
}

// Responder turns an inbound prompt into the assistant's reply. It
// assembles the context window from the chat's recent transcript plus
// semantically recalled exchanges, then calls the configured provider.
type Responder struct {
	provider     Provider
	history      *history.Store
	recall       *history.Recall
	times        *timeutil.Formatter
	clock        clock.Clock
	model        string
	temperature  float64
	historyLimit int
	recallLimit  int
	timeout      time.Duration
}

func NewResponder(opts ResponderOptions) *Responder {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	times := opts.Times
	if times == nil {
		times = timeutil.NewFormatter(timeutil.DefaultUTCOffsetHours)
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 12
	}
	recallLimit := opts.RecallLimit
	if recallLimit < 0 {
		recallLimit = 0
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Responder{
		provider:     opts.Provider,
		history:      opts.History,
		recall:       opts.Recall,
		times:        times,
		clock:        clk,
		model:        opts.Model,
		temperature:  opts.Temperature,
		historyLimit: historyLimit,
		recallLimit:  recallLimit,
		timeout:      timeout,
	}
}

// Enabled reports whether a provider is configured.
func (r *Responder) Enabled() bool {
	return r.provider != nil
}

// Embedder exposes the provider's embedding endpoint for the recall
// layer, or nil when the provider cannot embed.
func (r *Responder) Embedder() history.Embedder {
	if r.provider == nil {
		return nil
	}
	return r.provider
}

// Reply answers prompt for the chat. The prompt is not appended to the
// transcript here; the router records both sides of the exchange.
func (r *Responder) Reply(ctx context.Context, chatID int64, prompt string) (string, error) {
	if r.provider == nil {
		return DisabledNotice, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := r.buildMessages(ctx, chatID, prompt)
	resp, err := r.provider.Generate(ctx, contract.CompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm reply failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func (r *Responder) buildMessages(ctx context.Context, chatID int64, prompt string) []contract.Message {
	system := fmt.Sprintf(systemPromptTemplate, r.times.Format(r.clock.Now()))

	if recalled := r.recalledContext(ctx, chatID, prompt); recalled != "" {
		system += "\n\nPossibly relevant earlier exchanges:\n" + recalled
	}

	messages := []contract.Message{{Role: contract.RoleSystem, Content: system}}
	if r.history != nil {
		recent, err := r.history.Recent(chatID, r.historyLimit)
		if err != nil {
			slog.Warn("Failed to read chat transcript", "chat_id", chatID, "error", err)
		}
		for _, msg := range recent {
			role := contract.RoleUser
			if msg.Direction == history.DirectionBot {
				role = contract.RoleAssistant
			}
			messages = append(messages, contract.Message{Role: role, Content: msg.Text})
		}
	}
	return append(messages, contract.Message{Role: contract.RoleUser, Content: prompt})
}

func (r *Responder) recalledContext(ctx context.Context, chatID int64, prompt string) string {
	if r.recall == nil || !r.recall.Enabled() || r.recallLimit <= 0 {
		return ""
	}
	results, err := r.recall.Search(ctx, chatID, prompt, r.recallLimit)
	if err != nil {
		slog.Warn("Recall search failed", "chat_id", chatID, "error", err)
		return ""
	}
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(res.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}
