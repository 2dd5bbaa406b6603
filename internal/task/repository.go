package task

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/storage"
)

// Repository serves tasks from two snapshot files: the synced cache
// written by the Notion pipeline and the locally created tasks the bot
// adds on demand. Synced tasks shadow local ones on lookups.
type Repository struct {
	mu         sync.Mutex
	remotePath string
	customPath string
	remote     map[string]Task
	custom     map[string]Task
}

type taskSnapshot struct {
	Tasks []Task `json:"tasks"`
}

// NewRepository loads both snapshot files. Missing or corrupt files load
// as empty sets. Either path may be empty for a memory-only repository.
func NewRepository(remotePath, customPath string) *Repository {
	r := &Repository{
		remotePath: remotePath,
		customPath: customPath,
	}
	r.Refresh()
	return r
}

// Refresh re-reads both snapshot files, dropping any unsaved cache state.
func (r *Repository) Refresh() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remote = loadTasks(r.remotePath)
	r.custom = loadTasks(r.customPath)
}

func loadTasks(path string) map[string]Task {
	out := make(map[string]Task)
	if path == "" {
		return out
	}
	var snap taskSnapshot
	if !storage.LoadJSON(path, &snap) {
		return out
	}
	for _, t := range snap.Tasks {
		if t.ID == "" {
			continue
		}
		out[t.ID] = t
	}
	return out
}

// ReplaceRemote swaps the synced task set and persists it. The Notion
// sync pipeline calls this after each collection run.
func (r *Repository) ReplaceRemote(tasks []Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remote = make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			continue
		}
		r.remote[t.ID] = t
	}
	r.saveLocked(r.remotePath, r.remote)
	slog.Debug("Synced task cache replaced", "count", len(r.remote))
}

// ListActive returns every known task, synced before local, each group
// ordered by name.
func (r *Repository) ListActive() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append(sortedTasks(r.remote), sortedTasks(r.custom)...)
}

// Get looks a task up by id across both sets.
func (r *Repository) Get(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.remote[id]; ok {
		return t, true
	}
	t, ok := r.custom[id]
	return t, ok
}

// FindByName matches case-insensitively: an exact name wins over a
// containing one, and within each tier the synced set is consulted
// before the local one.
func (r *Repository) FindByName(name string) (Task, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Task{}, false
	}
	lowered := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, set := range []map[string]Task{r.remote, r.custom} {
		tasks := sortedTasks(set)
		for _, t := range tasks {
			if strings.ToLower(t.Name) == lowered {
				return t, true
			}
		}
		for _, t := range tasks {
			if strings.Contains(strings.ToLower(t.Name), lowered) {
				return t, true
			}
		}
	}
	return Task{}, false
}

// EnsureTask returns the task matching name, creating a local one when
// nothing matches.
func (r *Repository) EnsureTask(name string) Task {
	if t, ok := r.FindByName(name); ok {
		return t
	}
	return r.CreateCustom(name, "")
}

// CreateCustom adds a locally created task and persists the local set.
func (r *Repository) CreateCustom(name, content string) Task {
	t := Task{
		ID:       ulid.Make().String(),
		Name:     strings.TrimSpace(name),
		Status:   DefaultStatus,
		Priority: DefaultPriority,
		Content:  content,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.custom[t.ID] = t
	r.saveLocked(r.customPath, r.custom)
	slog.Debug("Local task created", "task_id", t.ID, "name", t.Name)
	return t
}

// Patch carries optional field updates for a local task. Nil fields are
// left untouched.
type Patch struct {
	Name        *string
	Content     *string
	Status      *string
	Priority    *string
	DueDate     *string
	ProjectName *string
}

// UpdateCustom applies a patch to a local task. Synced tasks are owned
// by Notion and cannot be edited here.
func (r *Repository) UpdateCustom(id string, patch Patch) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.custom[id]
	if !ok {
		return Task{}, false
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		t.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Content != nil {
		t.Content = *patch.Content
	}
	if patch.Status != nil && *patch.Status != "" {
		t.Status = *patch.Status
	}
	if patch.Priority != nil && *patch.Priority != "" {
		t.Priority = *patch.Priority
	}
	if patch.DueDate != nil {
		t.DueDate = *patch.DueDate
	}
	if patch.ProjectName != nil {
		t.ProjectName = *patch.ProjectName
	}
	r.custom[id] = t
	r.saveLocked(r.customPath, r.custom)
	return t, true
}

// DeleteCustom removes a local task.
func (r *Repository) DeleteCustom(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.custom[id]; !ok {
		return false
	}
	delete(r.custom, id)
	r.saveLocked(r.customPath, r.custom)
	return true
}

// IsCustom reports whether the id names a locally created task.
func (r *Repository) IsCustom(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.custom[id]
	return ok
}

func (r *Repository) saveLocked(path string, set map[string]Task) {
	if path == "" {
		return
	}
	if err := storage.SaveJSON(path, taskSnapshot{Tasks: sortedTasks(set)}); err != nil {
		slog.Error("Failed to persist tasks", "path", path, "error", err)
	}
}

func sortedTasks(set map[string]Task) []Task {
	out := make([]Task, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
