package task

import (
	"path/filepath"
	"testing"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dir := t.TempDir()
	return NewRepository(filepath.Join(dir, "tasks.json"), filepath.Join(dir, "custom_tasks.json"))
}

func TestFindByNamePrefersExactOverContains(t *testing.T) {
	r := newTestRepo(t)
	r.ReplaceRemote([]Task{
		{ID: "a", Name: "Write report draft"},
		{ID: "b", Name: "Report"},
	})

	got, ok := r.FindByName("report")
	if !ok || got.ID != "b" {
		t.Fatalf("exact name should win, got %+v ok=%v", got, ok)
	}

	got, ok = r.FindByName("draft")
	if !ok || got.ID != "a" {
		t.Fatalf("containing name should match, got %+v ok=%v", got, ok)
	}

	if _, ok := r.FindByName("unrelated"); ok {
		t.Fatal("no task should match an unrelated name")
	}
}

func TestFindByNameConsultsSyncedBeforeLocal(t *testing.T) {
	r := newTestRepo(t)
	r.ReplaceRemote([]Task{{ID: "remote1", Name: "Quarterly planning"}})
	r.CreateCustom("Quarterly planning", "")

	got, ok := r.FindByName("Quarterly planning")
	if !ok || got.ID != "remote1" {
		t.Fatalf("synced task should shadow the local one, got %+v", got)
	}
}

func TestEnsureTaskCreatesLocalWhenMissing(t *testing.T) {
	r := newTestRepo(t)

	created := r.EnsureTask("Prepare slides")
	if created.ID == "" || created.Name != "Prepare slides" {
		t.Fatalf("ensure should create a task, got %+v", created)
	}
	if created.Status != DefaultStatus || created.Priority != DefaultPriority {
		t.Fatalf("local task should carry defaults, got %+v", created)
	}

	again := r.EnsureTask("prepare SLIDES")
	if again.ID != created.ID {
		t.Fatalf("ensure should reuse the existing task, got %s want %s", again.ID, created.ID)
	}
	if got := len(r.ListActive()); got != 1 {
		t.Fatalf("want one task, got %d", got)
	}
}

func TestUpdateCustomOnlyTouchesLocalTasks(t *testing.T) {
	r := newTestRepo(t)
	r.ReplaceRemote([]Task{{ID: "remote1", Name: "Synced"}})
	local := r.CreateCustom("Local", "body")

	status := "Done"
	if _, ok := r.UpdateCustom("remote1", Patch{Status: &status}); ok {
		t.Fatal("synced tasks must not be editable")
	}

	updated, ok := r.UpdateCustom(local.ID, Patch{Status: &status})
	if !ok || updated.Status != "Done" {
		t.Fatalf("local update failed: %+v ok=%v", updated, ok)
	}
	if updated.Content != "body" {
		t.Fatalf("unpatched fields must survive, got %+v", updated)
	}
}

func TestRepositoryPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	remotePath := filepath.Join(dir, "tasks.json")
	customPath := filepath.Join(dir, "custom_tasks.json")

	r1 := NewRepository(remotePath, customPath)
	r1.ReplaceRemote([]Task{{ID: "n1", Name: "Synced task", PageURL: "https://www.notion.so/n1"}})
	local := r1.CreateCustom("Local task", "notes")

	r2 := NewRepository(remotePath, customPath)
	if got := len(r2.ListActive()); got != 2 {
		t.Fatalf("want 2 tasks after reload, got %d", got)
	}
	gotLocal, ok := r2.Get(local.ID)
	if !ok || gotLocal.Content != "notes" {
		t.Fatalf("local task should survive reload, got %+v", gotLocal)
	}
	if !r2.IsCustom(local.ID) || r2.IsCustom("n1") {
		t.Fatal("custom membership should survive reload")
	}
}

func TestDeleteCustom(t *testing.T) {
	r := newTestRepo(t)
	local := r.CreateCustom("Disposable", "")

	if !r.DeleteCustom(local.ID) {
		t.Fatal("delete should succeed for a local task")
	}
	if r.DeleteCustom(local.ID) {
		t.Fatal("second delete should report missing")
	}
	if _, ok := r.Get(local.ID); ok {
		t.Fatal("deleted task should be gone")
	}
}

func TestDisplayURLFallsBackToNotionConvention(t *testing.T) {
	withURL := Task{ID: "abc-def", PageURL: "https://www.notion.so/page"}
	if got := withURL.DisplayURL(); got != "https://www.notion.so/page" {
		t.Fatalf("explicit page url should win, got %q", got)
	}

	bare := Task{ID: "1234-abcd-5678"}
	if got := bare.DisplayURL(); got != "https://www.notion.so/1234abcd5678" {
		t.Fatalf("fallback should strip dashes, got %q", got)
	}

	if got := (Task{}).DisplayURL(); got != "" {
		t.Fatalf("empty task has no url, got %q", got)
	}
}
