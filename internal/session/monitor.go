package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/schedule"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/task"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/tracker"
)

const minTimerDelay = time.Second

const fallbackBlockName = "Task block"

// Tracker is the reminder registry surface the monitor drives.
type Tracker interface {
	StartTracking(ctx context.Context, chatID int64, ref tracker.TaskRef, intervalMinutes int, notify, syncState bool) tracker.Entry
	StopTracking(chatID int64, hint string) (tracker.Entry, bool)
	RequestFeedback(ctx context.Context, chatID int64, ref tracker.TaskRef, prompt, contextTag string, metadata map[string]string) tracker.Entry
}

// TaskSource resolves the task a window refers to.
type TaskSource interface {
	Get(id string) (task.Task, bool)
	FindByName(name string) (task.Task, bool)
	EnsureTask(name string) task.Task
}

// WindowStore is the slice of the window store the monitor consumes.
type WindowStore interface {
	GetWindow(windowID string) (schedule.TimeWindow, bool)
	DeleteWindow(windowID string) bool
	IterWindows(includePast bool) []schedule.TimeWindow
}

// Messenger delivers block notifications to the chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type sessionTimers struct {
	gen   uint64
	start *time.Timer
	end   *time.Timer
}

type activeSession struct {
	chatID int64
	task   task.Task
}

// Options configures a Monitor.
type Options struct {
	Windows    WindowStore
	Tracker    Tracker
	Tasks      TaskSource
	Messenger  Messenger
	Clock      clock.Clock
	FormatTime func(time.Time) string
}

// Monitor turns task windows into live sessions: at the window start it
// resolves the task and begins silent tracking, at the window end it
// stops tracking, notifies the chat and asks for a wrap-up. Timer
// callbacks re-check their arm generation under the lock; messages and
// tracker calls happen after the lock is released.
type Monitor struct {
	mu        sync.Mutex
	clock     clock.Clock
	windows   WindowStore
	tracker   Tracker
	tasks     TaskSource
	messenger Messenger
	format    func(time.Time) string
	timers    map[string]*sessionTimers
	active    map[string]activeSession
}

// NewMonitor builds the monitor without scheduling anything; call
// Bootstrap to replay persisted windows.
func NewMonitor(opts Options) *Monitor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	format := opts.FormatTime
	if format == nil {
		format = func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") }
	}
	return &Monitor{
		clock:     clk,
		windows:   opts.Windows,
		tracker:   opts.Tracker,
		tasks:     opts.Tasks,
		messenger: opts.Messenger,
		format:    format,
		timers:    make(map[string]*sessionTimers),
		active:    make(map[string]activeSession),
	}
}

// Bootstrap replays every persisted task window. Windows already in
// progress activate without the start notification.
func (m *Monitor) Bootstrap() {
	now := m.clock.Now()
	for _, w := range m.windows.IterWindows(false) {
		if w.Status == schedule.StatusCancelled || w.Status == schedule.StatusRejected {
			continue
		}
		silent := !w.Start.After(now) && !w.End.Before(now)
		m.Schedule(w, silent)
	}
}

// Schedule arms start and end handling for a task window, replacing any
// previous schedule of the same window. Windows of other kinds are
// ignored. A window that already ended runs its end logic immediately.
func (m *Monitor) Schedule(w schedule.TimeWindow, silentStart bool) {
	if w.Kind != schedule.KindTask {
		return
	}

	m.mu.Lock()
	t := m.resetTimersLocked(w.ID)
	delete(m.active, w.ID)
	gen := t.gen

	now := m.clock.Now()
	if !w.End.After(now) {
		m.mu.Unlock()
		m.handleEnd(w.ID, gen)
		return
	}

	var started *startResult
	if !w.Start.After(now) {
		started = m.startSessionLocked(w, silentStart)
	} else {
		delay := w.Start.Sub(now)
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
		t.start = time.AfterFunc(delay, func() { m.handleStart(w.ID, gen) })
	}
	endDelay := w.End.Sub(now)
	if endDelay < minTimerDelay {
		endDelay = minTimerDelay
	}
	t.end = time.AfterFunc(endDelay, func() { m.handleEnd(w.ID, gen) })
	m.mu.Unlock()

	slog.Debug("Task window scheduled", "window_id", w.ID, "chat_id", w.ChatID, "start", w.Start, "end", w.End)
	m.finishStart(started)
}

// Cancel tears the window's session down without messaging the chat.
func (m *Monitor) Cancel(windowID string) {
	m.mu.Lock()
	m.stopTimersLocked(windowID)
	delete(m.timers, windowID)
	active, wasActive := m.active[windowID]
	delete(m.active, windowID)
	m.mu.Unlock()

	if wasActive && m.tracker != nil {
		m.tracker.StopTracking(active.chatID, active.task.ID)
	}
}

// Shutdown disarms every window timer without touching the window store
// or the tracker, so persisted windows replay on the next Bootstrap.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.timers {
		m.stopTimersLocked(id)
	}
	m.timers = make(map[string]*sessionTimers)
	m.active = make(map[string]activeSession)
}

// ActiveSession reports the task a window is currently running.
func (m *Monitor) ActiveSession(windowID string) (task.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.active[windowID]
	return a.task, ok
}

func (m *Monitor) handleStart(windowID string, gen uint64) {
	m.mu.Lock()
	t := m.timers[windowID]
	if t == nil || t.gen != gen {
		m.mu.Unlock()
		return
	}
	w, ok := m.windows.GetWindow(windowID)
	if !ok {
		m.stopTimersLocked(windowID)
		delete(m.timers, windowID)
		m.mu.Unlock()
		return
	}
	started := m.startSessionLocked(w, false)
	m.mu.Unlock()

	m.finishStart(started)
}

func (m *Monitor) handleEnd(windowID string, gen uint64) {
	m.mu.Lock()
	t := m.timers[windowID]
	if t == nil || t.gen != gen {
		m.mu.Unlock()
		return
	}
	w, ok := m.windows.GetWindow(windowID)
	if !ok {
		m.stopTimersLocked(windowID)
		delete(m.timers, windowID)
		m.mu.Unlock()
		return
	}
	active, wasActive := m.active[windowID]
	delete(m.active, windowID)
	m.stopTimersLocked(windowID)
	delete(m.timers, windowID)
	m.mu.Unlock()

	ctx := context.Background()
	if wasActive && m.tracker != nil {
		m.tracker.StopTracking(active.chatID, active.task.ID)
	}

	label := w.TaskName
	if label == "" {
		label = w.Note
	}
	if label == "" {
		label = "(unnamed task)"
	}
	m.send(ctx, w.ChatID, fmt.Sprintf(
		"⏰ Task block ended: %s\nEnd time: %s\nPlease confirm whether it's done and replan a new block if needed.",
		label, m.format(w.End),
	))

	followUp := active.task
	if !wasActive {
		if resolved, ok := m.resolveTask(w); ok {
			followUp = resolved
		}
	}
	if m.tracker != nil && followUp.ID != "" {
		prompt := fmt.Sprintf(
			"⌛ The time block for %s has ended.\nPlease share whether it's complete, what got in the way, and the next step. I'll keep following up based on your reply.",
			followUp.Name,
		)
		m.tracker.RequestFeedback(ctx, w.ChatID, taskRef(followUp), prompt, "block_follow_up", map[string]string{"window_id": w.ID})
	}

	m.windows.DeleteWindow(windowID)
	slog.Debug("Task window ended", "window_id", windowID, "chat_id", w.ChatID)
}

type startResult struct {
	chatID  int64
	task    task.Task
	started bool
	message string
}

// startSessionLocked registers the active session and decides what to do
// once the lock is released. Caller holds the lock.
func (m *Monitor) startSessionLocked(w schedule.TimeWindow, silent bool) *startResult {
	resolved, ok := m.resolveTask(w)
	if !ok {
		return &startResult{
			chatID:  w.ChatID,
			message: "⚠️ Could not identify the task for this block, so tracking was not started.",
		}
	}
	m.active[w.ID] = activeSession{chatID: w.ChatID, task: resolved}
	res := &startResult{chatID: w.ChatID, task: resolved, started: true}
	if !silent {
		res.message = fmt.Sprintf("🎯 Task block started: %s\nTracking is on. Stay focused and report progress as you go.", resolved.Name)
	}
	return res
}

// finishStart runs the tracker call and notification for a started
// session outside the lock.
func (m *Monitor) finishStart(res *startResult) {
	if res == nil {
		return
	}
	ctx := context.Background()
	if res.started && m.tracker != nil {
		m.tracker.StartTracking(ctx, res.chatID, taskRef(res.task), 0, false, false)
	}
	if res.message != "" {
		m.send(ctx, res.chatID, res.message)
	}
}

func (m *Monitor) resolveTask(w schedule.TimeWindow) (task.Task, bool) {
	if m.tasks == nil {
		return task.Task{}, false
	}
	if w.TaskID != "" {
		if t, ok := m.tasks.Get(w.TaskID); ok {
			return t, true
		}
	}
	if w.TaskName != "" {
		if t, ok := m.tasks.FindByName(w.TaskName); ok {
			return t, true
		}
	}
	inferred := w.TaskName
	if inferred == "" {
		inferred = w.Note
	}
	if inferred == "" {
		inferred = fallbackBlockName
	}
	return m.tasks.EnsureTask(inferred), true
}

// resetTimersLocked stops any existing timers for the window and bumps
// the arm generation so stale callbacks turn into no-ops.
func (m *Monitor) resetTimersLocked(windowID string) *sessionTimers {
	t := m.timers[windowID]
	if t == nil {
		t = &sessionTimers{}
		m.timers[windowID] = t
	}
	t.gen++
	if t.start != nil {
		t.start.Stop()
		t.start = nil
	}
	if t.end != nil {
		t.end.Stop()
		t.end = nil
	}
	return t
}

func (m *Monitor) stopTimersLocked(windowID string) {
	t := m.timers[windowID]
	if t == nil {
		return
	}
	t.gen++
	if t.start != nil {
		t.start.Stop()
		t.start = nil
	}
	if t.end != nil {
		t.end.Stop()
		t.end = nil
	}
}

func (m *Monitor) send(ctx context.Context, chatID int64, text string) {
	if m.messenger == nil {
		return
	}
	if err := m.messenger.SendMessage(ctx, chatID, text); err != nil {
		slog.Warn("Failed to deliver block notification", "chat_id", chatID, "error", err)
	}
}

func taskRef(t task.Task) tracker.TaskRef {
	return tracker.TaskRef{ID: t.ID, Name: t.Name, URL: t.DisplayURL()}
}
