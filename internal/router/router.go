// Package router turns inbound chat updates into command executions or
// LLM conversations, and renders proactive scheduler events.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/concurrency"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/history"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/idempotency"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logger"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/proactivity"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/session"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/state"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"

	"github.com/google/shlex"
)

// Messenger delivers outbound text; the egress dispatcher satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Replier is the conversational surface of the LLM responder.
type Replier interface {
	Enabled() bool
	Reply(ctx context.Context, chatID int64, prompt string) (string, error)
}

// Syncer runs a Notion pull. It returns a human-readable summary, or an
// error carrying the reason (including "sync already running").
type Syncer interface {
	Sync(ctx context.Context, actor string, force bool, progress func(string)) (string, error)
}

// Memorizer indexes an exchange for semantic recall; the history recall
// layer satisfies it.
type Memorizer interface {
	Remember(ctx context.Context, chatID int64, direction, text string)
}

// Messages a user typed while a tracked task waits for feedback are
// treated as progress reports when they contain one of these words.
var progressKeywords = []string{
	"working", "progress", "finished", "done", "writing", "doing",
	"implementing", "fixing", "debug", "review", "analyzing", "submitted",
}

type Options struct {
	Messenger   Messenger
	History     *history.Store
	Responder   Replier
	Tasks       *task.Repository
	Logs        *logbook.Store
	Tracker     *tracker.Registry
	Proactivity *proactivity.Scheduler
	States      *state.Service
	Windows     *schedule.Store
	Sessions    *session.Monitor
	Sync        Syncer
	Recall      Memorizer
	Processed   *idempotency.Store
	Times       *timeutil.Formatter
	Clock       clock.Clock
	DedupeTTL   time.Duration
}

// Router dispatches chat updates. The numbered lists it prints
// (/trackings, /blocks, /tasks, /logs) each keep a per-chat snapshot of
// the ids shown, so a follow-up "delete 2" refers to what the user
// actually saw rather than to the current list order.
type Router struct {
	messenger   Messenger
	history     *history.Store
	responder   Replier
	tasks       *task.Repository
	logs        *logbook.Store
	tracker     *tracker.Registry
	proactivity *proactivity.Scheduler
	states      *state.Service
	windows     *schedule.Store
	sessions    *session.Monitor
	sync        Syncer
	recall      Memorizer
	processed   *idempotency.Store
	times       *timeutil.Formatter
	clock       clock.Clock
	dedupeTTL   time.Duration

	locks *concurrency.ChatLockManager
	snaps *snapshots
}

func New(opts Options) *Router {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	times := opts.Times
	if times == nil {
		times = timeutil.NewFormatter(timeutil.DefaultUTCOffsetHours)
	}
	ttl := opts.DedupeTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	r := &Router{
		messenger:   opts.Messenger,
		history:     opts.History,
		responder:   opts.Responder,
		tasks:       opts.Tasks,
		logs:        opts.Logs,
		tracker:     opts.Tracker,
		proactivity: opts.Proactivity,
		states:      opts.States,
		windows:     opts.Windows,
		sessions:    opts.Sessions,
		sync:        opts.Sync,
		recall:      opts.Recall,
		processed:   opts.Processed,
		times:       times,
		clock:       clk,
		dedupeTTL:   ttl,
		locks:       concurrency.NewChatLockManager(),
		snaps:       newSnapshots(),
	}
	if r.proactivity != nil {
		r.proactivity.SetEventHandler(r.HandleProactiveEvent)
	}
	return r
}

// HandleUpdate is the adapter EventHandler: it deduplicates the
// delivery, records the turn, and routes the text. Updates for the same
// chat are serialized so a command and its follow-up cannot interleave.
func (r *Router) HandleUpdate(ctx context.Context, chatID int64, updateID int64, text string, metadata map[string]string) error {
	r.locks.Lock(chatID)
	defer r.locks.Unlock(chatID)

	if r.processed != nil && r.processed.MarkUpdate(updateID, r.dedupeTTL) {
		slog.Debug("Skipping duplicate update", "chat_id", chatID, "update_id", updateID)
		return nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ctx = logger.WithChatID(ctx, chatID)
	ctx = logger.WithTraceID(ctx, fmt.Sprintf("upd-%d", updateID))

	if r.history != nil {
		if err := r.history.RecordUser(chatID, updateID, text); err != nil {
			slog.Warn("Failed to record user message", "chat_id", chatID, "error", err)
		}
	}
	if r.recall != nil {
		// Embedding is a network call; keep it out of the chat lock's
		// critical path.
		message := text
		concurrency.SafeGo("recall:user", func() {
			r.recall.Remember(context.Background(), chatID, "user", message)
		})
	}
	if r.proactivity != nil {
		r.proactivity.RecordUserMessage(chatID, text)
	}

	if strings.HasPrefix(text, "/") {
		return r.dispatchCommand(ctx, chatID, text)
	}
	return r.handleFreeText(ctx, chatID, text)
}

func (r *Router) dispatchCommand(ctx context.Context, chatID int64, text string) error {
	args, err := shlex.Split(text)
	if err != nil {
		args = strings.Fields(text)
	}
	if len(args) == 0 {
		return nil
	}
	command := strings.ToLower(args[0])
	args = args[1:]

	switch command {
	case "/help":
		return r.handleHelp(ctx, chatID)
	case "/clear":
		return r.handleClear(ctx, chatID)
	case "/track":
		return r.handleTrack(ctx, chatID, args)
	case "/untrack":
		return r.handleUntrack(ctx, chatID, args)
	case "/trackings":
		return r.handleTrackings(ctx, chatID)
	case "/tasks":
		return r.handleTasks(ctx, chatID, args)
	case "/logs":
		return r.handleLogs(ctx, chatID, args)
	case "/blocks", "/rest":
		return r.handleBlocks(ctx, chatID, args)
	case "/state":
		return r.handleState(ctx, chatID)
	case "/next", "/board":
		return r.handleNext(ctx, chatID)
	case "/update":
		return r.handleSync(ctx, chatID)
	default:
		return r.send(ctx, chatID, "Unknown command. Use /help to list what I understand.")
	}
}

func (r *Router) handleFreeText(ctx context.Context, chatID int64, text string) error {
	r.maybeAutoUpdateState(chatID, text)

	if r.tracker != nil {
		if enriched, ok := r.tracker.ConsumeReply(chatID, text); ok {
			text = enriched
		}
	}

	if r.responder == nil {
		return r.send(ctx, chatID, "The assistant is not configured; use /help for direct commands.")
	}
	reply, err := r.responder.Reply(ctx, chatID, text)
	if err != nil {
		slog.Error("LLM reply failed", "chat_id", chatID, "error", err)
		return r.send(ctx, chatID, "I could not reach the language model. Please try again in a moment.")
	}
	if strings.TrimSpace(reply) == "" {
		return nil
	}
	return r.send(ctx, chatID, reply)
}

// maybeAutoUpdateState refreshes the action dimension when a plain
// message reads like a progress report, so replies to tracking pings
// double as state updates.
func (r *Router) maybeAutoUpdateState(chatID int64, text string) {
	if r.states == nil {
		return
	}
	lowered := strings.ToLower(text)
	matched := false
	for _, kw := range progressKeywords {
		if strings.Contains(lowered, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}
	now := r.clock.Now()
	r.states.Update(chatID, state.ActionInProgress, "steady", r.trackerActive(chatID), r.resting(chatID, now))
}

// HandleProactiveEvent renders a scheduler event through the responder
// so the nudge arrives in the assistant's own voice.
func (r *Router) HandleProactiveEvent(chatID int64, ev proactivity.Event) {
	ctx := logger.WithChatID(context.Background(), chatID)

	var prompt string
	switch ev.Type {
	case proactivity.EventStatePrompt:
		labels := map[string]string{"action": "action state", "mental": "mental state"}
		var missing []string
		for _, key := range ev.Missing {
			if label, ok := labels[key]; ok {
				missing = append(missing, label)
			} else {
				missing = append(missing, key)
			}
		}
		human := strings.Join(missing, " and ")
		if human == "" {
			human = "state"
		}
		prompt = fmt.Sprintf(
			"System notice: the user's %s has not been updated for a while. Check in with a short, natural question to learn how they are doing.",
			human,
		)
	case proactivity.EventQuestionFollowUp:
		prompt = fmt.Sprintf(
			"System notice: the question %q has not been answered yet. Follow up once more and make clear you need a reply.",
			ev.Question,
		)
	default:
		return
	}

	if r.responder != nil && r.responder.Enabled() {
		reply, err := r.responder.Reply(ctx, chatID, prompt)
		if err == nil && strings.TrimSpace(reply) != "" {
			if err := r.send(ctx, chatID, reply); err != nil {
				slog.Error("Failed to deliver proactive message", "chat_id", chatID, "error", err)
			}
			return
		}
		if err != nil {
			slog.Warn("Proactive reply failed, falling back to plain notice", "chat_id", chatID, "error", err)
		}
	}

	// Plain fallback keeps the nudge alive without a model.
	var notice string
	if ev.Type == proactivity.EventStatePrompt {
		notice = "Quick check-in: how is it going? A one-line update is enough."
	} else {
		notice = fmt.Sprintf("Still waiting on this one: %s", ev.Question)
	}
	if err := r.send(ctx, chatID, notice); err != nil {
		slog.Error("Failed to deliver proactive message", "chat_id", chatID, "error", err)
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string) error {
	if r.messenger == nil {
		return nil
	}
	return r.messenger.SendMessage(ctx, chatID, text)
}

func (r *Router) trackerActive(chatID int64) bool {
	return r.tracker != nil && r.tracker.HasActive(chatID)
}

func (r *Router) resting(chatID int64, now time.Time) bool {
	return r.windows != nil && r.windows.IsResting(chatID, now)
}
