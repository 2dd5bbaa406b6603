package schedule

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	secretaryErrors "github.com/sunlibo2390/notion-telegram-secretary-bot/internal/errors"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
)

type WindowStatus string

const (
	StatusPending   WindowStatus = "pending"
	StatusApproved  WindowStatus = "approved"
	StatusCancelled WindowStatus = "cancelled"
	StatusRejected  WindowStatus = "rejected"
)

type WindowKind string

const (
	KindRest WindowKind = "rest"
	KindTask WindowKind = "task"
)

// TimeWindow is a scheduled block of time for a chat: either a rest break
// or a focused task session.
type TimeWindow struct {
	ID        string       `json:"id"`
	ChatID    int64        `json:"chat_id"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Status    WindowStatus `json:"status"`
	Kind      WindowKind   `json:"kind"`
	Note      string       `json:"note"`
	TaskID    string       `json:"task_id,omitempty"`
	TaskName  string       `json:"task_name,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// WindowSpec describes a window to create. Zero Status defaults to
// approved, zero Kind to rest.
type WindowSpec struct {
	ChatID   int64
	Start    time.Time
	End      time.Time
	Status   WindowStatus
	Kind     WindowKind
	Note     string
	TaskID   string
	TaskName string
}

const recentCancelRetention = 30 * time.Minute

// Store keeps the time windows of every chat. Expired rest windows are
// swept before each operation; task windows stay until the session
// monitor consumes them.
type Store struct {
	mu              sync.Mutex
	clock           clock.Clock
	path            string
	windows         map[string]*TimeWindow
	recentCancelled map[int64]time.Time
}

type windowsSnapshot struct {
	Windows map[string]*TimeWindow `json:"windows"`
}

// NewStore loads the window snapshot at path. An empty path keeps the
// store memory-only.
func NewStore(path string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System()
	}
	s := &Store{
		clock:           clk,
		path:            path,
		windows:         make(map[string]*TimeWindow),
		recentCancelled: make(map[int64]time.Time),
	}
	if path != "" {
		var snap windowsSnapshot
		if storage.LoadJSON(path, &snap) && snap.Windows != nil {
			s.windows = snap.Windows
		}
	}
	return s
}

// AddWindow creates a window. Rest windows that overlap or touch an
// existing non-cancelled rest window of the same chat are merged into one
// spanning block carrying the combined notes.
func (s *Store) AddWindow(spec WindowSpec) (TimeWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	if !spec.End.After(spec.Start) {
		return TimeWindow{}, secretaryErrors.InvalidRange("window end must be after start")
	}

	status := spec.Status
	if status == "" {
		status = StatusApproved
	}
	kind := spec.Kind
	if kind == "" {
		kind = KindRest
	}

	start, end := spec.Start, spec.End
	notes := make([]string, 0, 2)
	if note := strings.TrimSpace(spec.Note); note != "" {
		notes = append(notes, note)
	}

	if kind == KindRest {
		candidates := make([]*TimeWindow, 0)
		for _, w := range s.windows {
			if w.ChatID != spec.ChatID || w.Kind != KindRest {
				continue
			}
			if w.Status == StatusCancelled || w.Status == StatusRejected {
				continue
			}
			candidates = append(candidates, w)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start.Before(candidates[j].Start) })

		for _, w := range candidates {
			overlaps := end.After(w.Start) && start.Before(w.End)
			touches := end.Equal(w.Start) || start.Equal(w.End)
			if !overlaps && !touches {
				continue
			}
			if w.Start.Before(start) {
				start = w.Start
			}
			if w.End.After(end) {
				end = w.End
			}
			if note := strings.TrimSpace(w.Note); note != "" {
				notes = append(notes, note)
			}
			delete(s.windows, w.ID)
		}
	}

	window := &TimeWindow{
		ID:        ulid.Make().String(),
		ChatID:    spec.ChatID,
		Start:     start,
		End:       end,
		Status:    status,
		Kind:      kind,
		Note:      joinNotes(notes),
		TaskID:    spec.TaskID,
		TaskName:  spec.TaskName,
		CreatedAt: s.clock.Now(),
	}
	s.windows[window.ID] = window
	s.saveLocked()

	slog.Debug("Window added",
		"window_id", window.ID,
		"chat_id", window.ChatID,
		"kind", window.Kind,
		"start", window.Start,
		"end", window.End,
	)
	return *window, nil
}

// ListWindows returns a chat's windows sorted by start time. Cancelled and
// rejected windows are always hidden; past windows only appear with
// includePast.
func (s *Store) ListWindows(chatID int64, includePast bool) []TimeWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	now := s.clock.Now()
	result := make([]TimeWindow, 0)
	for _, w := range s.windows {
		if w.ChatID != chatID {
			continue
		}
		if w.Status == StatusCancelled || w.Status == StatusRejected {
			continue
		}
		if includePast || !w.End.Before(now) {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Start.Before(result[j].Start) })
	return result
}

// IterWindows returns windows across all chats, sorted by chat then start.
// Unlike ListWindows it does not filter by status.
func (s *Store) IterWindows(includePast bool) []TimeWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	now := s.clock.Now()
	result := make([]TimeWindow, 0)
	for _, w := range s.windows {
		if includePast || !w.End.Before(now) {
			result = append(result, *w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ChatID != result[j].ChatID {
			return result[i].ChatID < result[j].ChatID
		}
		return result[i].Start.Before(result[j].Start)
	})
	return result
}

// CancelWindow removes a window. Cancelling a window that is approved and
// currently active stamps the chat's recent-cancel marker, which the
// proactivity scheduler uses as a short re-prompt grace period.
func (s *Store) CancelWindow(windowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	w, ok := s.windows[windowID]
	if !ok {
		return false
	}
	now := s.clock.Now()
	active := w.Status == StatusApproved && !now.Before(w.Start) && !now.After(w.End)
	delete(s.windows, windowID)
	s.saveLocked()
	if active {
		s.recentCancelled[w.ChatID] = now
	}

	slog.Debug("Window cancelled", "window_id", windowID, "chat_id", w.ChatID, "was_active", active)
	return true
}

// DeleteWindow removes a window without recording a cancel stamp.
func (s *Store) DeleteWindow(windowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	if _, ok := s.windows[windowID]; !ok {
		return false
	}
	delete(s.windows, windowID)
	s.saveLocked()
	return true
}

// GetWindow looks up a window by id.
func (s *Store) GetWindow(windowID string) (TimeWindow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	w, ok := s.windows[windowID]
	if !ok {
		return TimeWindow{}, false
	}
	return *w, true
}

// CurrentWindow returns the approved window of the given kind covering
// when. The interval is closed on both ends. A zero when means now.
func (s *Store) CurrentWindow(chatID int64, when time.Time, kind WindowKind) (TimeWindow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	if when.IsZero() {
		when = s.clock.Now()
	}
	var best *TimeWindow
	for _, w := range s.windows {
		if w.ChatID != chatID || w.Status != StatusApproved || w.Kind != kind {
			continue
		}
		if when.Before(w.Start) || when.After(w.End) {
			continue
		}
		if best == nil || w.Start.Before(best.Start) {
			best = w
		}
	}
	if best == nil {
		return TimeWindow{}, false
	}
	return *best, true
}

// IsResting reports whether the chat is inside an approved rest window.
func (s *Store) IsResting(chatID int64, when time.Time) bool {
	_, ok := s.CurrentWindow(chatID, when, KindRest)
	return ok
}

// HasActiveTaskBlock reports whether the chat is inside an approved task
// session window.
func (s *Store) HasActiveTaskBlock(chatID int64, when time.Time) bool {
	_, ok := s.CurrentWindow(chatID, when, KindTask)
	return ok
}

// NextResumeTime returns the earliest end of an approved rest window that
// ends after when. A zero when means now.
func (s *Store) NextResumeTime(chatID int64, when time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	if when.IsZero() {
		when = s.clock.Now()
	}
	var resume time.Time
	found := false
	for _, w := range s.windows {
		if w.ChatID != chatID || w.Status != StatusApproved || w.Kind != KindRest {
			continue
		}
		if !w.End.After(when) {
			continue
		}
		if !found || w.End.Before(resume) {
			resume = w.End
			found = true
		}
	}
	return resume, found
}

// NextWindow returns the chat's earliest upcoming or active rest window.
func (s *Store) NextWindow(chatID int64) (TimeWindow, bool) {
	for _, w := range s.ListWindows(chatID, false) {
		if w.Kind == KindRest {
			return w, true
		}
	}
	return TimeWindow{}, false
}

// RecentCancelledAt returns when the chat last cancelled an active window.
func (s *Store) RecentCancelledAt(chatID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()

	at, ok := s.recentCancelled[chatID]
	return at, ok
}

// pruneLocked drops expired rest windows and stale cancel stamps.
// Caller holds the lock.
func (s *Store) pruneLocked() {
	now := s.clock.Now()
	removed := false
	for id, w := range s.windows {
		if w.Kind == KindRest && !w.End.After(now) {
			delete(s.windows, id)
			removed = true
		}
	}
	if removed {
		s.saveLocked()
	}

	cutoff := now.Add(-recentCancelRetention)
	for chatID, at := range s.recentCancelled {
		if at.Before(cutoff) {
			delete(s.recentCancelled, chatID)
		}
	}
}

func (s *Store) saveLocked() {
	if s.path == "" {
		return
	}
	if err := storage.SaveJSON(s.path, windowsSnapshot{Windows: s.windows}); err != nil {
		slog.Error("Failed to persist windows", "path", s.path, "error", err)
	}
}

func joinNotes(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(notes))
	unique := make([]string, 0, len(notes))
	for _, n := range notes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		unique = append(unique, n)
	}
	return strings.Join(unique, "; ")
}
