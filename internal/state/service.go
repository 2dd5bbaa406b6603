package state

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
)

// Service keeps the per-chat states, persisted as one JSON snapshot.
// Reads that normalize against the environment may persist a transition.
type Service struct {
	mu     sync.Mutex
	clock  clock.Clock
	path   string
	states map[int64]*ChatState
}

type statesSnapshot struct {
	Chats map[int64]*ChatState `json:"chats"`
}

// NewService loads the chat-state snapshot at path. An empty path keeps
// the service memory-only.
func NewService(path string, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System()
	}
	s := &Service{
		clock:  clk,
		path:   path,
		states: make(map[int64]*ChatState),
	}
	if path != "" {
		var snap statesSnapshot
		if storage.LoadJSON(path, &snap) && snap.Chats != nil {
			s.states = snap.Chats
		}
	}
	return s
}

// Raw returns the stored state without reconciling it against the
// environment.
func (s *Service) Raw(chatID int64) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(chatID)
}

// State returns the chat's state after normalizing the action dimension
// against the tracker and rest environment. A transition is persisted.
func (s *Service) State(chatID int64, trackerActive, resting bool) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normalizeLocked(chatID, trackerActive, resting)
}

// Update applies explicit action/mental values (empty strings leave a
// dimension untouched) and then re-normalizes against the environment.
// While resting, an explicit action is overridden to resting.
func (s *Service) Update(chatID int64, action, mental string, trackerActive, resting bool) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.normalizeLocked(chatID, trackerActive, resting)
	now := s.clock.Now()
	changed := false

	if action = strings.TrimSpace(action); action != "" {
		if resting {
			action = ActionResting
		}
		st.Action = action
		t := now
		st.ActionUpdatedAt = &t
		st.ActionPromptedAt = nil
		changed = true
	}
	if mental = strings.TrimSpace(mental); mental != "" {
		st.Mental = mental
		t := now
		st.MentalUpdatedAt = &t
		st.MentalPromptedAt = nil
		changed = true
	}
	if changed {
		s.putLocked(chatID, st)
	}

	st, normChanged := Normalize(st, trackerActive, resting, s.clock.Now())
	if normChanged {
		s.putLocked(chatID, st)
	}

	if changed || normChanged {
		slog.Debug("Chat state updated", "chat_id", chatID, "action", st.Action, "mental", st.Mental)
	}
	return st
}

// MarkPrompt stamps the prompt marker for the selected dimensions. The
// proactivity scheduler calls it right after emitting a staleness event
// so the cooldown starts counting.
func (s *Service) MarkPrompt(chatID int64, action, mental bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getLocked(chatID)
	now := s.clock.Now()
	if action {
		t := now
		st.ActionPromptedAt = &t
	}
	if mental {
		t := now
		st.MentalPromptedAt = &t
	}
	s.putLocked(chatID, st)
}

// ResetAll drops every chat's state. Called at daemon startup so stale
// states from a previous run never feed the first staleness check.
func (s *Service) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states = make(map[int64]*ChatState)
	s.saveLocked()
	slog.Info("Chat states reset")
}

func (s *Service) getLocked(chatID int64) ChatState {
	if st, ok := s.states[chatID]; ok {
		return *st
	}
	return emptyState()
}

func (s *Service) putLocked(chatID int64, st ChatState) {
	copied := st
	s.states[chatID] = &copied
	s.saveLocked()
}

func (s *Service) normalizeLocked(chatID int64, trackerActive, resting bool) ChatState {
	st, changed := Normalize(s.getLocked(chatID), trackerActive, resting, s.clock.Now())
	if changed {
		s.putLocked(chatID, st)
	}
	return st
}

func (s *Service) saveLocked() {
	if s.path == "" {
		return
	}
	if err := storage.SaveJSON(s.path, statesSnapshot{Chats: s.states}); err != nil {
		slog.Error("Failed to persist chat states", "path", s.path, "error", err)
	}
}
