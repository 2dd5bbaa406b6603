package components

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/concurrency"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/daemon"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/egress"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/history"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/llm"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/proactivity"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/session"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/state"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/timeutil"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

// Floors below which the proactivity cadences would spin or nag.
const (
	minStateCheck       = time.Minute
	minStateStale       = 5 * time.Minute
	minPromptCooldown   = 5 * time.Minute
	minQuestionFollowUp = time.Minute
)

// proactivityIntervals parses the four cadences and raises each to its
// floor; a value like "1s" would otherwise turn the staleness chain
// into a busy loop.
func proactivityIntervals(cfg config.ProactivityConfig) (check, stale, cooldown, followUp time.Duration, err error) {
	if check, err = config.DurationOrDefault(cfg.StateCheck, config.DefaultProactivityStateCheck); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("parse proactivity state check: %w", err)
	}
	if stale, err = config.DurationOrDefault(cfg.StateStale, config.DefaultProactivityStateStale); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("parse proactivity state stale: %w", err)
	}
	if cooldown, err = config.DurationOrDefault(cfg.StatePromptCooldown, config.DefaultProactivityPromptCooldown); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("parse proactivity prompt cooldown: %w", err)
	}
	if followUp, err = config.DurationOrDefault(cfg.QuestionFollowUp, config.DefaultProactivityQuestionFollowUp); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("parse proactivity question follow-up: %w", err)
	}
	check = config.FloorDuration(check, minStateCheck)
	stale = config.FloorDuration(stale, minStateStale)
	cooldown = config.FloorDuration(cooldown, minPromptCooldown)
	followUp = config.FloorDuration(followUp, minQuestionFollowUp)
	return check, stale, cooldown, followUp, nil
}

// EngineComponent assembles the temporal core: the egress dispatcher,
// the window store, the chat state service, the reminder registry, the
// session monitor, the proactivity scheduler and the LLM responder.
type EngineComponent struct {
	cfg       *config.Config
	dataDir   string
	storeComp *StoreComponent

	times       *timeutil.Formatter
	dispatcher  *egress.Dispatcher
	windows     *schedule.Store
	states      *state.Service
	tracker     *tracker.Registry
	responder   *llm.Responder
	recall      *history.Recall
	sessions    *session.Monitor
	proactivity *proactivity.Scheduler
}

func NewEngineComponent(cfg *config.Config, dataDir string, storeComp *StoreComponent) *EngineComponent {
	return &EngineComponent{
		cfg:       cfg,
		dataDir:   dataDir,
		storeComp: storeComp,
	}
}

func (c *EngineComponent) Name() string {
	return "engine"
}

func (c *EngineComponent) Dependencies() []string {
	return []string{"store"}
}

func (c *EngineComponent) Init(ctx context.Context) error {
	clk := c.storeComp.Clock()
	c.times = timeutil.NewFormatter(c.cfg.Display.UTCOffsetHours)

	// Transports come up later; the adapters component fills the
	// dispatcher in once the runtime is started.
	c.dispatcher = egress.NewDispatcher(nil, nil)

	c.windows = schedule.NewStore(storage.WindowsPath(c.dataDir), clk)
	c.states = state.NewService(storage.ChatStatePath(c.dataDir), clk)
	c.states.ResetAll()

	interval, err := config.DurationOrDefault(c.cfg.Tracker.Interval, config.DefaultTrackerInterval)
	if err != nil {
		return fmt.Errorf("parse tracker interval: %w", err)
	}
	followUp, err := config.DurationOrDefault(c.cfg.Tracker.FollowUp, config.DefaultTrackerFollowUp)
	if err != nil {
		return fmt.Errorf("parse tracker follow-up: %w", err)
	}
	c.tracker = tracker.NewRegistry(tracker.Options{
		SnapshotPath: storage.TrackersPath(c.dataDir),
		Initial:      interval,
		FollowUp:     followUp,
		Clock:        clk,
		Rest:         c.windows,
		States:       c.states,
		Messenger:    c.dispatcher,
	})

	provider, err := llm.NewProvider(c.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to build llm provider: %w", err)
	}
	var recall *history.Recall
	if provider != nil && c.cfg.History.RecallEnabled {
		recall = history.NewRecall(c.storeComp.History(), provider)
	}
	c.recall = recall
	llmTimeout, err := config.DurationOrDefault(c.cfg.LLM.RequestTimeout, config.DefaultLLMRequestTimeout)
	if err != nil {
		return fmt.Errorf("parse llm request timeout: %w", err)
	}
	c.responder = llm.NewResponder(llm.ResponderOptions{
		Provider:     provider,
		History:      c.storeComp.History(),
		Recall:       recall,
		Times:        c.times,
		Clock:        clk,
		Model:        c.cfg.LLM.Model,
		Temperature:  c.cfg.LLM.Temperature,
		HistoryLimit: c.cfg.LLM.HistoryLimit,
		RecallLimit:  c.cfg.LLM.RecallLimit,
		Timeout:      llmTimeout,
	})

	c.sessions = session.NewMonitor(session.Options{
		Windows:    c.windows,
		Tracker:    c.tracker,
		Tasks:      c.storeComp.Tasks(),
		Messenger:  c.dispatcher,
		Clock:      clk,
		FormatTime: c.times.Format,
	})

	stateCheck, stateStale, cooldown, questionFollowUp, err := proactivityIntervals(c.cfg.Proactivity)
	if err != nil {
		return err
	}
	c.proactivity = proactivity.NewScheduler(proactivity.Options{
		States:           c.states,
		Rest:             c.windows,
		Tracker:          c.tracker,
		Clock:            clk,
		StateCheck:       stateCheck,
		StateStale:       stateStale,
		PromptCooldown:   cooldown,
		QuestionFollowUp: questionFollowUp,
	})

	hist := c.storeComp.History()
	proactive := c.proactivity
	c.dispatcher.SetAfterSend(func(chatID int64, text string) {
		proactive.RecordAgentMessage(chatID, text)
		if err := hist.RecordBot(chatID, text); err != nil {
			slog.Warn("Failed to record outbound message", "chat_id", chatID, "error", err)
		}
		if recall != nil {
			// Embedding is a network call; keep it off the send path.
			concurrency.SafeGo("recall:bot", func() {
				recall.Remember(context.Background(), chatID, "bot", text)
			})
		}
	})

	slog.Info("Engine assembled",
		"llm_enabled", c.responder.Enabled(),
		"recall_enabled", recall != nil,
		"utc_offset_hours", c.cfg.Display.UTCOffsetHours,
	)
	return nil
}

// Start replays persisted reminder schedules and task windows so timers
// survive a daemon restart.
func (c *EngineComponent) Start(ctx context.Context) error {
	c.tracker.Restore()
	c.sessions.Bootstrap()
	return nil
}

// Stop disarms every outstanding timer so nothing fires into the stores
// once the daemon has begun teardown.
func (c *EngineComponent) Stop(ctx context.Context) error {
	if c.proactivity != nil {
		c.proactivity.Shutdown()
	}
	if c.sessions != nil {
		c.sessions.Shutdown()
	}
	if c.tracker != nil {
		c.tracker.Shutdown()
	}
	return nil
}

func (c *EngineComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	health := &daemon.ComponentHealth{Name: c.Name(), Healthy: true}
	if c.dispatcher == nil || c.tracker == nil {
		health.Healthy = false
		health.Error = fmt.Errorf("engine not initialized")
	}
	return health, nil
}

// Dispatcher returns the egress dispatcher.
func (c *EngineComponent) Dispatcher() *egress.Dispatcher {
	return c.dispatcher
}

// Windows returns the time window store.
func (c *EngineComponent) Windows() *schedule.Store {
	return c.windows
}

// States returns the chat state service.
func (c *EngineComponent) States() *state.Service {
	return c.states
}

// Tracker returns the reminder registry.
func (c *EngineComponent) Tracker() *tracker.Registry {
	return c.tracker
}

// Responder returns the LLM responder.
func (c *EngineComponent) Responder() *llm.Responder {
	return c.responder
}

// Recall returns the semantic recall layer, nil when the provider
// cannot embed or recall is disabled.
func (c *EngineComponent) Recall() *history.Recall {
	return c.recall
}

// Sessions returns the task session monitor.
func (c *EngineComponent) Sessions() *session.Monitor {
	return c.sessions
}

// Proactivity returns the proactivity scheduler.
func (c *EngineComponent) Proactivity() *proactivity.Scheduler {
	return c.proactivity
}

// Times returns the display time formatter.
func (c *EngineComponent) Times() *timeutil.Formatter {
	return c.times
}
