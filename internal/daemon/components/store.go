// Package components wires the daemon's building blocks: the persistent
// stores, the scheduling engine, the Notion sync loop and the chat
// transports.
package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/config"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/daemon"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/history"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/idempotency"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
)

// StoreComponent owns the data directory: the exclusive file lock and
// every persistent repository the rest of the daemon reads and writes.
type StoreComponent struct {
	cfg     *config.Config
	dataDir string
	clock   clock.Clock

	lock      *storage.FileLock
	tasks     *task.Repository
	logs      *logbook.Store
	processed *idempotency.Store
	history   *history.Store
}

func NewStoreComponent(cfg *config.Config, dataDir string) *StoreComponent {
	return &StoreComponent{
		cfg:     cfg,
		dataDir: dataDir,
		clock:   clock.System(),
	}
}

func (c *StoreComponent) Name() string {
	return "store"
}

func (c *StoreComponent) Dependencies() []string {
	return nil
}

func (c *StoreComponent) Init(ctx context.Context) error {
	lockCfg, err := fileLockConfig(c.cfg.Store)
	if err != nil {
		return err
	}
	lock, err := storage.NewFileLock(c.dataDir, lockCfg)
	if err != nil {
		return fmt.Errorf("failed to acquire data dir lock: %w", err)
	}
	c.lock = lock

	c.tasks = task.NewRepository(storage.TasksPath(c.dataDir), storage.CustomTasksPath(c.dataDir))
	c.logs = logbook.NewStore(storage.LogbookPath(c.dataDir), c.clock)

	processed, err := idempotency.NewStore(storage.ProcessedPath(c.dataDir), c.clock)
	if err != nil {
		c.lock.Unlock()
		return fmt.Errorf("failed to open processed-updates store: %w", err)
	}
	c.processed = processed

	vectorDir := ""
	if c.cfg.History.RecallEnabled {
		vectorDir = storage.VectorDir(c.dataDir)
	}
	hist, err := history.NewStore(history.Options{
		Dir:            storage.HistoryDir(c.dataDir),
		VectorDir:      vectorDir,
		RotateMaxBytes: c.cfg.History.RotateMaxBytes,
		Clock:          c.clock,
	})
	if err != nil {
		c.lock.Unlock()
		return fmt.Errorf("failed to open history store: %w", err)
	}
	c.history = hist

	slog.Info("Stores opened", "data_dir", c.dataDir, "recall_enabled", vectorDir != "")
	return nil
}

func (c *StoreComponent) Start(ctx context.Context) error {
	if c.history != nil {
		c.history.Start()
	}
	return nil
}

func (c *StoreComponent) Stop(ctx context.Context) error {
	if c.processed != nil {
		pruned := c.processed.Prune()
		if err := c.processed.Save(); err != nil {
			slog.Warn("Failed to save processed-updates store", "error", err)
		}
		slog.Debug("Processed-updates store flushed", "pruned", pruned)
	}
	if c.history != nil {
		c.history.Stop()
	}
	if c.lock != nil {
		c.lock.Unlock()
	}
	return nil
}

func (c *StoreComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	health := &daemon.ComponentHealth{Name: c.Name(), Healthy: true}
	if c.lock == nil || !c.lock.IsLocked() {
		health.Healthy = false
		health.Error = fmt.Errorf("data dir lock not held")
	}
	return health, nil
}

// Tasks returns the task repository.
func (c *StoreComponent) Tasks() *task.Repository {
	return c.tasks
}

// Logs returns the logbook store.
func (c *StoreComponent) Logs() *logbook.Store {
	return c.logs
}

// Processed returns the processed-updates store.
func (c *StoreComponent) Processed() *idempotency.Store {
	return c.processed
}

// History returns the transcript store.
func (c *StoreComponent) History() *history.Store {
	return c.history
}

// Clock returns the shared clock.
func (c *StoreComponent) Clock() clock.Clock {
	return c.clock
}

func fileLockConfig(cfg config.StoreConfig) (*storage.FileLockConfig, error) {
	timeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse store lock timeout: %w", err)
	}
	retry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return nil, fmt.Errorf("parse store lock retry: %w", err)
	}
	maxRetry := cfg.LockMaxRetry
	if maxRetry <= 0 {
		maxRetry = config.DefaultStoreLockMaxRetry
	}
	return &storage.FileLockConfig{
		LockTimeout:  timeout,
		LockRetry:    retry,
		LockMaxRetry: maxRetry,
	}, nil
}
