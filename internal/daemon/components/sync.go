package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/daemon"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/notion"
)

// SyncComponent pulls the Notion databases in the background. Without an
// API key and task database id it stays registered but inert, so the
// rest of the daemon runs on local data only.
type SyncComponent struct {
	cfg       *config.Config
	storeComp *StoreComponent

	service  *notion.SyncService
	interval time.Duration
	cron     *cron.Cron
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSyncComponent(cfg *config.Config, storeComp *StoreComponent) *SyncComponent {
	return &SyncComponent{
		cfg:       cfg,
		storeComp: storeComp,
	}
}

func (c *SyncComponent) Name() string {
	return "sync"
}

func (c *SyncComponent) Dependencies() []string {
	return []string{"store"}
}

func (c *SyncComponent) Init(ctx context.Context) error {
	apiKey := c.cfg.Notion.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("NOTION_API_KEY")
	}
	if apiKey == "" || c.cfg.Notion.TaskDatabaseID == "" {
		slog.Info("Notion sync disabled", "reason", "api key or task database id missing")
		return nil
	}

	timeout, err := config.DurationOrDefault(c.cfg.Notion.RequestTimeout, config.DefaultNotionRequestTimeout)
	if err != nil {
		return fmt.Errorf("parse notion request timeout: %w", err)
	}
	interval, err := config.DurationOrDefault(c.cfg.Notion.SyncInterval, config.DefaultNotionSyncInterval)
	if err != nil {
		return fmt.Errorf("parse notion sync interval: %w", err)
	}
	c.interval = interval

	client := notion.NewClient(apiKey, timeout)
	c.service = notion.NewSyncService(notion.SyncOptions{
		Client:         client,
		Tasks:          c.storeComp.Tasks(),
		Logs:           c.storeComp.Logs(),
		TaskDatabaseID: c.cfg.Notion.TaskDatabaseID,
		LogDatabaseID:  c.cfg.Notion.LogDatabaseID,
		FreshFor:       interval,
		Clock:          c.storeComp.Clock(),
	})

	slog.Info("Notion sync configured",
		"interval", interval,
		"schedule", c.cfg.Notion.SyncSchedule,
		"log_database", c.cfg.Notion.LogDatabaseID != "",
	)
	return nil
}

func (c *SyncComponent) Start(ctx context.Context) error {
	if c.service == nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	// Cron expression beats the plain interval when both are set.
	if expr := c.cfg.Notion.SyncSchedule; expr != "" {
		c.cron = cron.New()
		if _, err := c.cron.AddFunc(expr, func() { c.runOnce(runCtx, "cron") }); err != nil {
			cancel()
			return fmt.Errorf("invalid notion sync schedule %q: %w", expr, err)
		}
		c.cron.Start()
		go func() {
			defer close(c.done)
			c.runOnce(runCtx, "startup")
		}()
		return nil
	}

	go func() {
		defer close(c.done)
		c.runOnce(runCtx, "startup")
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.runOnce(runCtx, "interval")
			}
		}
	}()
	return nil
}

func (c *SyncComponent) runOnce(ctx context.Context, actor string) {
	summary, err := c.service.Sync(ctx, actor, false, nil)
	if err != nil {
		slog.Warn("Background Notion sync failed", "actor", actor, "error", err)
		return
	}
	slog.Info("Background Notion sync done", "actor", actor, "summary", summary)
}

func (c *SyncComponent) Stop(ctx context.Context) error {
	if c.cron != nil {
		stopped := c.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
	}
	return nil
}

func (c *SyncComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	return &daemon.ComponentHealth{Name: c.Name(), Healthy: true}, nil
}

// Service returns the sync service, or nil when the component is inert.
func (c *SyncComponent) Service() *notion.SyncService {
	return c.service
}
