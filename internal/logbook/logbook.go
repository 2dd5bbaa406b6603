// Package logbook stores work-log entries: short progress notes tied to
// tasks. Synced entries come from the Notion pipeline, local ones from
// chat commands and agent tools. Both live in one snapshot file so the
// listing stays chronological across origins.
package logbook

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
)

// Entry is a single work-log record.
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status,omitempty"`
	Content   string    `json:"content"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskName  string    `json:"task_name,omitempty"`
	TaskURL   string    `json:"task_url,omitempty"`
	Local     bool      `json:"local,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// DisplayTaskURL returns the stored task link, or reconstructs the
// Notion page URL when the task id looks like a Notion page id.
func (e Entry) DisplayTaskURL() string {
	if e.TaskURL != "" {
		return e.TaskURL
	}
	clean := strings.ReplaceAll(e.TaskID, "-", "")
	if len(clean) == 32 && isHex(clean) {
		return "https://www.notion.so/" + clean
	}
	return ""
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Store is a mutex-guarded log collection backed by one snapshot file.
// The path may be empty for a memory-only store.
type Store struct {
	mu      sync.Mutex
	path    string
	clk     clock.Clock
	entries map[string]Entry
}

type logSnapshot struct {
	Logs []Entry `json:"logs"`
}

// NewStore loads the snapshot at path. Missing or corrupt files load as
// an empty logbook.
func NewStore(path string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System()
	}
	s := &Store{
		path:    path,
		clk:     clk,
		entries: make(map[string]Entry),
	}
	if path != "" {
		var snap logSnapshot
		if storage.LoadJSON(path, &snap) {
			for _, e := range snap.Logs {
				if e.ID == "" {
					continue
				}
				s.entries[e.ID] = e
			}
		}
	}
	return s
}

// List returns every entry ordered oldest first, so the tail of the
// slice is always the most recent activity.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedEntries(s.entries)
}

// Get looks an entry up by id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Append records a local entry. An empty name gets a timestamp label so
// the entry sorts with the synced ones.
func (s *Store) Append(name, content, taskID, taskName string) Entry {
	now := s.clk.Now().UTC()
	name = strings.TrimSpace(name)
	if name == "" {
		name = now.Format("2006-01-02 15:04")
	}
	e := Entry{
		ID:        ulid.Make().String(),
		Name:      name,
		Content:   content,
		TaskID:    taskID,
		TaskName:  taskName,
		Local:     true,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.ID] = e
	s.saveLocked()
	slog.Debug("Work log appended", "log_id", e.ID, "task", taskName)
	return e
}

// Patch carries optional field updates for an entry. Nil fields are
// left untouched.
type Patch struct {
	Name     *string
	Content  *string
	TaskID   *string
	TaskName *string
}

// Update applies a patch to any entry, local or synced. Edits to synced
// entries last until the next pipeline run replaces them.
func (s *Store) Update(id string, patch Patch) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		e.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Content != nil {
		e.Content = *patch.Content
	}
	if patch.TaskID != nil {
		e.TaskID = *patch.TaskID
	}
	if patch.TaskName != nil && strings.TrimSpace(*patch.TaskName) != "" {
		e.TaskName = strings.TrimSpace(*patch.TaskName)
	}
	s.entries[id] = e
	s.saveLocked()
	return e, true
}

// Delete removes an entry by id.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	s.saveLocked()
	return true
}

// ReplaceRemote swaps the synced entries for the given set while
// keeping local ones. The Notion sync pipeline calls this after each
// collection run.
func (s *Store) ReplaceRemote(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make(map[string]Entry)
	for id, e := range s.entries {
		if e.Local {
			kept[id] = e
		}
	}
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		e.Local = false
		kept[e.ID] = e
	}
	s.entries = kept
	s.saveLocked()
	slog.Debug("Synced log cache replaced", "count", len(entries))
}

func (s *Store) saveLocked() {
	if s.path == "" {
		return
	}
	if err := storage.SaveJSON(s.path, logSnapshot{Logs: sortedEntries(s.entries)}); err != nil {
		slog.Error("Failed to persist logbook", "path", s.path, "error", err)
	}
}

func sortedEntries(set map[string]Entry) []Entry {
	out := make([]Entry, 0, len(set))
	for _, e := range set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
