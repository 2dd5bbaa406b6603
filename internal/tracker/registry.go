package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/state"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
)

// DefaultInitialInterval is the reminder cadence when no per-task interval
// is given.
const DefaultInitialInterval = 25 * time.Minute

// DefaultFollowUpInterval is the nag cadence once a reminder is waiting
// for a reply.
const DefaultFollowUpInterval = 10 * time.Minute

// Re-arm delays never go below this; an overdue entry fires shortly after
// restore instead of spinning.
const minTimerDelay = time.Second

// Per-task custom intervals are clamped to this range.
const (
	minCustomInterval = 5 * time.Minute
	maxCustomInterval = 180 * time.Minute
)

// TaskRef identifies the task a reminder refers to.
type TaskRef struct {
	ID   string
	Name string
	URL  string
}

// Entry is one live reminder schedule for a (chat, task) pair.
type Entry struct {
	ChatID       int64             `json:"chat_id"`
	TaskID       string            `json:"task_id"`
	TaskName     string            `json:"task_name"`
	TaskURL      string            `json:"task_url,omitempty"`
	Waiting      bool              `json:"waiting"`
	Interval     time.Duration     `json:"interval"`
	StartTime    time.Time         `json:"start_time"`
	NextFireAt   time.Time         `json:"next_fire_at"`
	RestResumeAt *time.Time        `json:"rest_resume_at,omitempty"`
	Context      string            `json:"context,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NextEvent describes the next scheduled fire of an entry.
type NextEvent struct {
	TaskID   string    `json:"task_id"`
	TaskName string    `json:"task_name"`
	Due      time.Time `json:"due"`
	Waiting  bool      `json:"waiting"`
}

// RestSchedule is the slice of the window store the registry consumes.
type RestSchedule interface {
	IsResting(chatID int64, when time.Time) bool
	NextResumeTime(chatID int64, when time.Time) (time.Time, bool)
}

// StateSync receives action-state updates as tracking starts and stops.
type StateSync interface {
	Update(chatID int64, action, mental string, trackerActive, resting bool) state.ChatState
}

// Messenger delivers reminder messages to the chat transport.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

type entryKey struct {
	chatID int64
	taskID string
}

type liveEntry struct {
	Entry
	gen   uint64
	timer *time.Timer
}

// Options configures a Registry. Zero Initial falls back to the default;
// FollowUp zero means reminders are single-shot.
type Options struct {
	SnapshotPath string
	Initial      time.Duration
	FollowUp     time.Duration
	Clock        clock.Clock
	Rest         RestSchedule
	States       StateSync
	Messenger    Messenger
}

// Registry owns every reminder schedule. One timer is armed per entry;
// callbacks re-validate the entry and its arm generation under the lock
// before acting, so a cancel that lost the race with a firing timer is
// harmless. Messages are always sent after the lock is released.
type Registry struct {
	mu        sync.Mutex
	clock     clock.Clock
	path      string
	initial   time.Duration
	followUp  time.Duration
	rest      RestSchedule
	states    StateSync
	messenger Messenger
	entries   map[entryKey]*liveEntry
}

type trackersSnapshot struct {
	Entries []Entry `json:"entries"`
}

// NewRegistry builds the registry and loads the snapshot without arming
// any timers; call Restore once the process is ready to fire reminders.
func NewRegistry(opts Options) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	initial := opts.Initial
	if initial <= 0 {
		initial = DefaultInitialInterval
	}
	r := &Registry{
		clock:     clk,
		path:      opts.SnapshotPath,
		initial:   initial,
		followUp:  opts.FollowUp,
		rest:      opts.Rest,
		states:    opts.States,
		messenger: opts.Messenger,
		entries:   make(map[entryKey]*liveEntry),
	}
	if r.path != "" {
		var snap trackersSnapshot
		if storage.LoadJSON(r.path, &snap) {
			for _, e := range snap.Entries {
				if e.ChatID == 0 || e.TaskID == "" {
					continue
				}
				r.entries[entryKey{e.ChatID, e.TaskID}] = &liveEntry{Entry: e}
			}
		}
	}
	return r
}

// Restore re-arms timers for every loaded entry from its persisted
// next_fire_at. Overdue entries fire after a short grace delay.
func (r *Registry) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	restored := 0
	for key, e := range r.entries {
		if e.NextFireAt.IsZero() {
			continue
		}
		delay := e.NextFireAt.Sub(now)
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
		r.armLocked(key, e, delay)
		restored++
	}
	if restored > 0 {
		slog.Info("Reminder schedules restored", "count", restored)
	}
}

// StartTracking creates or replaces the reminder schedule for the task.
// A custom interval is clamped to 5..180 minutes. When the chat is
// resting and the rest ends before the interval would elapse, the first
// fire lands on the resume time instead. syncState is false when the
// caller manages the action state itself, as the session monitor does
// for task blocks.
func (r *Registry) StartTracking(ctx context.Context, chatID int64, task TaskRef, intervalMinutes int, notify, syncState bool) Entry {
	interval := r.initial
	if intervalMinutes > 0 {
		interval = time.Duration(intervalMinutes) * time.Minute
		if interval < minCustomInterval {
			interval = minCustomInterval
		}
		if interval > maxCustomInterval {
			interval = maxCustomInterval
		}
	}

	key := entryKey{chatID, task.ID}

	r.mu.Lock()
	r.cancelLocked(key)

	now := r.clock.Now()
	next := now.Add(interval)
	var restResume *time.Time
	if r.rest != nil && r.rest.IsResting(chatID, now) {
		if resume, ok := r.rest.NextResumeTime(chatID, now); ok && resume.Before(next) {
			next = resume
			restResume = &resume
		}
	}

	e := &liveEntry{Entry: Entry{
		ChatID:       chatID,
		TaskID:       task.ID,
		TaskName:     task.Name,
		TaskURL:      task.URL,
		Interval:     interval,
		StartTime:    now,
		NextFireAt:   next,
		RestResumeAt: restResume,
	}}
	r.entries[key] = e
	r.armLocked(key, e, next.Sub(now))
	r.saveLocked()
	entry := e.Entry
	r.mu.Unlock()

	slog.Debug("Tracking started",
		"chat_id", chatID,
		"task_id", task.ID,
		"interval", interval,
		"next_fire_at", next,
	)

	if notify {
		minutes := int(interval.Minutes())
		r.send(ctx, chatID, fmt.Sprintf("Started tracking %s. I'll check in after %d minutes.", task.Name, minutes))
	}
	if syncState {
		r.syncActionState(chatID, state.ActionInProgress, true)
	}
	return entry
}

// RequestFeedback creates or replaces the entry already in the waiting
// state, exactly as if a reminder had just fired, and sends prompt. The
// follow-up timer nags until the user replies.
func (r *Registry) RequestFeedback(ctx context.Context, chatID int64, task TaskRef, prompt, contextTag string, metadata map[string]string) Entry {
	key := entryKey{chatID, task.ID}

	r.mu.Lock()
	r.cancelLocked(key)

	now := r.clock.Now()
	e := &liveEntry{Entry: Entry{
		ChatID:    chatID,
		TaskID:    task.ID,
		TaskName:  task.Name,
		TaskURL:   task.URL,
		Waiting:   true,
		Interval:  r.followUp,
		StartTime: now,
		Context:   contextTag,
		Metadata:  metadata,
	}}
	if r.followUp > 0 {
		e.NextFireAt = now.Add(r.followUp)
		r.armLocked(key, e, r.followUp)
	}
	r.entries[key] = e
	r.saveLocked()
	entry := e.Entry
	r.mu.Unlock()

	slog.Debug("Feedback requested", "chat_id", chatID, "task_id", task.ID, "context", contextTag)
	r.send(ctx, chatID, prompt)
	return entry
}

// fire is the timer callback for one entry. gen detects callbacks that
// outlived a cancel-and-re-arm.
func (r *Registry) fire(key entryKey, gen uint64) {
	var message string

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		return
	}

	now := r.clock.Now()
	if r.rest != nil && r.rest.IsResting(key.chatID, now) {
		// Rest absorbs reminders: reschedule silently for the resume time.
		next := now.Add(r.followUp)
		if r.followUp <= 0 {
			next = now.Add(r.initial)
		}
		if resume, ok := r.rest.NextResumeTime(key.chatID, now); ok {
			next = resume
			resumeCopy := resume
			e.RestResumeAt = &resumeCopy
		}
		e.NextFireAt = next
		delay := next.Sub(now)
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
		r.armLocked(key, e, delay)
		r.saveLocked()
		r.mu.Unlock()
		return
	}

	e.Waiting = true
	e.RestResumeAt = nil
	if r.followUp > 0 {
		e.NextFireAt = now.Add(r.followUp)
		r.armLocked(key, e, r.followUp)
	} else {
		e.NextFireAt = time.Time{}
		e.timer = nil
	}
	r.saveLocked()
	if e.TaskURL != "" {
		message = fmt.Sprintf("⏰ Time to check in. How is %s (%s) going? Please share progress and the next step.", e.TaskName, e.TaskURL)
	} else {
		message = fmt.Sprintf("⏰ Time to check in. How is %s going? Please share progress and the next step.", e.TaskName)
	}
	r.mu.Unlock()

	r.send(context.Background(), key.chatID, message)
}

// ConsumeReply resolves a waiting reminder against an inbound message.
// With exactly one waiting entry the reply is consumed unconditionally;
// with several, the text must reference the task id or name. It returns
// a synthesized prompt for the language model, or false when nothing was
// waiting or the reference was ambiguous.
func (r *Registry) ConsumeReply(chatID int64, text string) (string, bool) {
	r.mu.Lock()

	waiting := make([]*liveEntry, 0, 2)
	for _, e := range r.chatEntriesLocked(chatID) {
		if e.Waiting {
			waiting = append(waiting, e)
		}
	}

	var target *liveEntry
	switch len(waiting) {
	case 0:
	case 1:
		target = waiting[0]
	default:
		lower := strings.ToLower(text)
		for _, e := range waiting {
			if e.TaskID != "" && strings.Contains(lower, strings.ToLower(e.TaskID)) {
				target = e
				break
			}
		}
		if target == nil {
			for _, e := range waiting {
				if name := strings.ToLower(strings.TrimSpace(e.TaskName)); name != "" && strings.Contains(lower, name) {
					target = e
					break
				}
			}
		}
	}

	if target == nil {
		r.mu.Unlock()
		return "", false
	}

	key := entryKey{chatID, target.TaskID}
	r.cancelLocked(key)
	r.saveLocked()
	entry := target.Entry
	remaining := r.chatHasEntriesLocked(chatID)
	r.mu.Unlock()

	slog.Debug("Reminder reply consumed", "chat_id", chatID, "task_id", entry.TaskID)
	r.syncActionState(chatID, state.ActionUnknown, remaining)

	var b strings.Builder
	fmt.Fprintf(&b, "Progress update for task %s: %s", entry.TaskName, text)
	if entry.TaskURL != "" {
		fmt.Fprintf(&b, "\nConsider the task's current state at %s and suggest the next step.", entry.TaskURL)
	} else {
		b.WriteString("\nSuggest the next step.")
	}
	return b.String(), true
}

// StopTracking removes a reminder schedule. Without a hint it succeeds
// only when the chat tracks exactly one task. A hint matches the task id
// exactly (case-insensitive) or a substring of the task name.
func (r *Registry) StopTracking(chatID int64, hint string) (Entry, bool) {
	r.mu.Lock()

	var target *liveEntry
	hint = strings.TrimSpace(hint)
	chatEntries := r.chatEntriesLocked(chatID)

	if hint == "" {
		if len(chatEntries) == 1 {
			target = chatEntries[0]
		}
	} else {
		lowerHint := strings.ToLower(hint)
		for _, e := range chatEntries {
			if strings.ToLower(e.TaskID) == lowerHint {
				target = e
				break
			}
		}
		if target == nil {
			for _, e := range chatEntries {
				if strings.Contains(strings.ToLower(e.TaskName), lowerHint) {
					target = e
					break
				}
			}
		}
	}

	if target == nil {
		r.mu.Unlock()
		return Entry{}, false
	}

	key := entryKey{chatID, target.TaskID}
	r.cancelLocked(key)
	r.saveLocked()
	entry := target.Entry
	remaining := r.chatHasEntriesLocked(chatID)
	r.mu.Unlock()

	slog.Debug("Tracking stopped", "chat_id", chatID, "task_id", entry.TaskID)
	r.syncActionState(chatID, state.ActionUnknown, remaining)
	return entry, true
}

// Clear cancels every reminder schedule of the chat under one lock hold.
func (r *Registry) Clear(chatID int64) {
	r.mu.Lock()
	removed := 0
	for key := range r.entries {
		if key.chatID == chatID {
			r.cancelLocked(key)
			removed++
		}
	}
	if removed > 0 {
		r.saveLocked()
	}
	r.mu.Unlock()

	if removed > 0 {
		slog.Debug("Reminder schedules cleared", "chat_id", chatID, "count", removed)
		r.syncActionState(chatID, state.ActionUnknown, false)
	}
}

// Shutdown stops every reminder timer without dropping entries or the
// snapshot, so schedules re-arm on the next Restore.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		e.gen++
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}

// DeferForRest pushes every armed non-waiting entry whose next fire falls
// inside [start, end] out to the end of the rest window.
func (r *Registry) DeferForRest(chatID int64, start, end time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	deferred := 0
	for key, e := range r.entries {
		if key.chatID != chatID || e.Waiting || e.NextFireAt.IsZero() {
			continue
		}
		if e.NextFireAt.Before(start) || e.NextFireAt.After(end) {
			continue
		}
		resume := end
		e.RestResumeAt = &resume
		e.NextFireAt = end
		delay := end.Sub(now)
		if delay < minTimerDelay {
			delay = minTimerDelay
		}
		r.armLocked(key, e, delay)
		deferred++
	}
	if deferred > 0 {
		r.saveLocked()
		slog.Debug("Reminders deferred for rest", "chat_id", chatID, "count", deferred, "until", end)
	}
}

// ListActive returns the chat's reminder schedules ordered by start time.
func (r *Registry) ListActive(chatID int64) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Entry, 0)
	for key, e := range r.entries {
		if key.chatID == chatID {
			result = append(result, e.Entry)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].TaskID < result[j].TaskID
	})
	return result
}

// HasActive reports whether the chat tracks at least one task.
func (r *Registry) HasActive(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatHasEntriesLocked(chatID)
}

// ListNextEvents reports, due-ordered, when each schedule will next act.
// During rest the due time is the rest's resume time.
func (r *Registry) ListNextEvents(chatID int64) []NextEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	resting := r.rest != nil && r.rest.IsResting(chatID, now)
	var resume time.Time
	if resting {
		if t, ok := r.rest.NextResumeTime(chatID, now); ok {
			resume = t
		} else {
			resume = now
		}
	}

	events := make([]NextEvent, 0)
	for key, e := range r.entries {
		if key.chatID != chatID {
			continue
		}
		ev := NextEvent{TaskID: e.TaskID, TaskName: e.TaskName, Waiting: e.Waiting}
		switch {
		case resting:
			ev.Due = resume
		case !e.NextFireAt.IsZero():
			ev.Due = e.NextFireAt
		default:
			ev.Due = now
		}
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Due.Equal(events[j].Due) {
			return events[i].Due.Before(events[j].Due)
		}
		return events[i].TaskID < events[j].TaskID
	})
	return events
}

// armLocked replaces the entry's timer. Caller holds the lock.
func (r *Registry) armLocked(key entryKey, e *liveEntry, delay time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(delay, func() { r.fire(key, gen) })
}

// cancelLocked stops the timer and removes the entry. Cancellation is
// best-effort; a callback already past Stop is rejected by its stale
// generation. Caller holds the lock.
func (r *Registry) cancelLocked(key entryKey) {
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	delete(r.entries, key)
}

func (r *Registry) chatEntriesLocked(chatID int64) []*liveEntry {
	result := make([]*liveEntry, 0, 2)
	for key, e := range r.entries {
		if key.chatID == chatID {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].StartTime.Before(result[j].StartTime)
		}
		return result[i].TaskID < result[j].TaskID
	})
	return result
}

func (r *Registry) chatHasEntriesLocked(chatID int64) bool {
	for key := range r.entries {
		if key.chatID == chatID {
			return true
		}
	}
	return false
}

func (r *Registry) saveLocked() {
	if r.path == "" {
		return
	}
	snap := trackersSnapshot{Entries: make([]Entry, 0, len(r.entries))}
	for _, e := range r.entries {
		snap.Entries = append(snap.Entries, e.Entry)
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].ChatID != snap.Entries[j].ChatID {
			return snap.Entries[i].ChatID < snap.Entries[j].ChatID
		}
		return snap.Entries[i].TaskID < snap.Entries[j].TaskID
	})
	if err := storage.SaveJSON(r.path, snap); err != nil {
		slog.Error("Failed to persist reminder schedules", "path", r.path, "error", err)
	}
}

func (r *Registry) send(ctx context.Context, chatID int64, text string) {
	if r.messenger == nil {
		return
	}
	if err := r.messenger.SendMessage(ctx, chatID, text); err != nil {
		slog.Warn("Failed to deliver reminder message", "chat_id", chatID, "error", err)
	}
}

func (r *Registry) syncActionState(chatID int64, action string, trackerActive bool) {
	if r.states == nil {
		return
	}
	resting := false
	if r.rest != nil {
		resting = r.rest.IsResting(chatID, r.clock.Now())
	}
	r.states.Update(chatID, action, "", trackerActive, resting)
}
