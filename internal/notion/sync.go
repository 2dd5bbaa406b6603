package notion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/logbook"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
)

// Statuses that never reach the local repositories.
var excludedStatuses = map[string]bool{"Done": true, "Dormant": true}

type SyncOptions struct {
	Client         *Client
	Tasks          *task.Repository
	Logs           *logbook.Store
	TaskDatabaseID string
	LogDatabaseID  string
	// FreshFor skips a non-forced sync when the previous one completed
	// this recently. Zero keeps the 30 minute default.
	FreshFor time.Duration
	Clock    clock.Clock
}

// SyncService pulls both databases and replaces the synced halves of
// the task and log repositories. Only one sync runs at a time.
type SyncService struct {
	client   *Client
	tasks    *task.Repository
	logs     *logbook.Store
	taskDB   string
	logDB    string
	freshFor time.Duration
	clock    clock.Clock

	running  sync.Mutex
	mu       sync.Mutex
	lastSync time.Time
}

func NewSyncService(opts SyncOptions) *SyncService {
	freshFor := opts.FreshFor
	if freshFor <= 0 {
		freshFor = 30 * time.Minute
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &SyncService{
		client:   opts.Client,
		tasks:    opts.Tasks,
		logs:     opts.Logs,
		taskDB:   opts.TaskDatabaseID,
		logDB:    opts.LogDatabaseID,
		freshFor: freshFor,
		clock:    clk,
	}
}

// Sync fetches tasks and logs, refreshing the repositories. It returns
// a one-line summary for the chat, or an error when another sync holds
// the lock or the pull fails.
func (s *SyncService) Sync(ctx context.Context, actor string, force bool, progress func(string)) (string, error) {
	if !s.running.TryLock() {
		return "", fmt.Errorf("%w: a sync is already running, try again shortly", errors.ErrConflict)
	}
	defer s.running.Unlock()

	emit := func(message string) {
		if progress != nil {
			progress(message)
		}
	}

	now := s.clock.Now()
	s.mu.Lock()
	fresh := !s.lastSync.IsZero() && now.Sub(s.lastSync) < s.freshFor
	s.mu.Unlock()
	if fresh && !force {
		return "data is already fresh", nil
	}

	start := now
	slog.Info("Notion sync started", "actor", actor, "force", force)

	tasks, taskNames, taskURLs, err := s.pullTasks(ctx, emit)
	if err != nil {
		return "", err
	}
	s.tasks.ReplaceRemote(tasks)
	emit(fmt.Sprintf("Tasks refreshed: %d active.", len(tasks)))

	logCount := 0
	if s.logDB != "" && s.logs != nil {
		entries, err := s.pullLogs(ctx, emit, taskNames, taskURLs)
		if err != nil {
			return "", err
		}
		s.logs.ReplaceRemote(entries)
		logCount = len(entries)
		emit(fmt.Sprintf("Logs refreshed: %d entries.", logCount))
	}

	s.mu.Lock()
	s.lastSync = s.clock.Now()
	s.mu.Unlock()

	duration := s.clock.Now().Sub(start)
	slog.Info("Notion sync finished", "actor", actor, "tasks", len(tasks), "logs", logCount, "duration", duration)
	return fmt.Sprintf("%d tasks and %d log entries in %.1fs", len(tasks), logCount, duration.Seconds()), nil
}

func (s *SyncService) pullTasks(ctx context.Context, emit func(string)) ([]task.Task, map[string]string, map[string]string, error) {
	emit("Fetching the task database...")
	pages, err := s.client.QueryDatabase(ctx, s.taskDB)
	if err != nil {
		return nil, nil, nil, err
	}

	type pending struct {
		task     task.Task
		subtasks []string
	}
	var kept []pending
	for _, page := range pages {
		t, subtasks := flattenTask(page)
		if excludedStatuses[t.Status] {
			continue
		}
		content, err := s.pageMarkdown(ctx, page.ID)
		if err != nil {
			slog.Warn("Failed to fetch task content", "task_id", page.ID, "error", err)
		}
		t.Content = content
		kept = append(kept, pending{task: t, subtasks: subtasks})
	}

	// Resolve project names once per project page.
	projectNames := map[string]string{}
	for i := range kept {
		id := kept[i].task.ProjectID
		if id == "" {
			continue
		}
		name, ok := projectNames[id]
		if !ok {
			page, err := s.client.FetchPage(ctx, id)
			if err != nil {
				slog.Warn("Failed to resolve project name", "project_id", id, "error", err)
				projectNames[id] = ""
				continue
			}
			name = page.title(propName)
			projectNames[id] = name
		}
		kept[i].task.ProjectName = name
	}

	names := make(map[string]string, len(kept))
	urls := make(map[string]string, len(kept))
	for _, p := range kept {
		names[p.task.ID] = p.task.Name
		urls[p.task.ID] = p.task.PageURL
	}

	tasks := make([]task.Task, 0, len(kept))
	for _, p := range kept {
		for _, subID := range p.subtasks {
			if name, ok := names[subID]; ok {
				p.task.SubtaskNames = append(p.task.SubtaskNames, name)
			}
		}
		tasks = append(tasks, p.task)
	}
	return tasks, names, urls, nil
}

func (s *SyncService) pullLogs(ctx context.Context, emit func(string), taskNames, taskURLs map[string]string) ([]logbook.Entry, error) {
	emit("Fetching the log database...")
	pages, err := s.client.QueryDatabase(ctx, s.logDB)
	if err != nil {
		return nil, err
	}

	var entries []logbook.Entry
	for _, page := range pages {
		entry := flattenLog(page)
		if excludedStatuses[entry.Status] {
			continue
		}
		content, err := s.pageMarkdown(ctx, page.ID)
		if err != nil {
			slog.Warn("Failed to fetch log content", "log_id", page.ID, "error", err)
		}
		entry.Content = content
		if entry.TaskID != "" {
			entry.TaskName = taskNames[entry.TaskID]
			entry.TaskURL = taskURLs[entry.TaskID]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *SyncService) pageMarkdown(ctx context.Context, pageID string) (string, error) {
	blocks, err := s.client.FetchBlockChildren(ctx, pageID)
	if err != nil {
		return "", err
	}
	return BlocksToMarkdown(blocks), nil
}
