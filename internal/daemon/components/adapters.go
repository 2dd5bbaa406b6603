package components

import (
	"context"
	"fmt"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/adapter"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/daemon"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/router"
)

// AdaptersComponent builds the chat router and the transport runtime,
// then points the egress dispatcher at the live adapters.
type AdaptersComponent struct {
	cfg        *config.Config
	storeComp  *StoreComponent
	engineComp *EngineComponent
	syncComp   *SyncComponent

	router  *router.Router
	runtime *adapter.RuntimeManager
}

func NewAdaptersComponent(cfg *config.Config, storeComp *StoreComponent, engineComp *EngineComponent, syncComp *SyncComponent) *AdaptersComponent {
	return &AdaptersComponent{
		cfg:        cfg,
		storeComp:  storeComp,
		engineComp: engineComp,
		syncComp:   syncComp,
	}
}

func (c *AdaptersComponent) Name() string {
	return "adapters"
}

func (c *AdaptersComponent) Dependencies() []string {
	return []string{"store", "engine", "sync"}
}

func (c *AdaptersComponent) Init(ctx context.Context) error {
	dedupeTTL, err := config.DurationOrDefault(c.cfg.Telegram.DedupeTTL, config.DefaultTelegramDedupeTTL)
	if err != nil {
		return fmt.Errorf("parse telegram dedupe ttl: %w", err)
	}

	opts := router.Options{
		Messenger:   c.engineComp.Dispatcher(),
		History:     c.storeComp.History(),
		Responder:   c.engineComp.Responder(),
		Tasks:       c.storeComp.Tasks(),
		Logs:        c.storeComp.Logs(),
		Tracker:     c.engineComp.Tracker(),
		Proactivity: c.engineComp.Proactivity(),
		States:      c.engineComp.States(),
		Windows:     c.engineComp.Windows(),
		Sessions:    c.engineComp.Sessions(),
		Processed:   c.storeComp.Processed(),
		Times:       c.engineComp.Times(),
		Clock:       c.storeComp.Clock(),
		DedupeTTL:   dedupeTTL,
	}
	if svc := c.syncComp.Service(); svc != nil {
		opts.Sync = svc
	}
	if rc := c.engineComp.Recall(); rc != nil {
		opts.Recall = rc
	}
	c.router = router.New(opts)

	runtime, err := adapter.NewRuntimeManager(c.cfg.Telegram, c.cfg.Mirror, c.router.HandleUpdate, c.storeComp.Processed().Checkpoint())
	if err != nil {
		return fmt.Errorf("failed to build adapter runtime: %w", err)
	}
	c.runtime = runtime
	c.engineComp.Dispatcher().SetOutputs(runtime.Primary(), runtime.Mirrors())
	return nil
}

func (c *AdaptersComponent) Start(ctx context.Context) error {
	c.runtime.Start(ctx)
	return nil
}

func (c *AdaptersComponent) Stop(ctx context.Context) error {
	if c.runtime == nil {
		return nil
	}
	return c.runtime.Stop(ctx)
}

func (c *AdaptersComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	health := &daemon.ComponentHealth{Name: c.Name(), Healthy: true}
	if c.runtime == nil {
		health.Healthy = false
		health.Error = fmt.Errorf("adapter runtime not initialized")
		return health, nil
	}
	if err := c.runtime.Health(ctx); err != nil {
		health.Healthy = false
		health.Error = err
	}
	return health, nil
}

// Router returns the chat router.
func (c *AdaptersComponent) Router() *router.Router {
	return c.router
}
