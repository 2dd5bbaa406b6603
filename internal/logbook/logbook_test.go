package logbook

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/clock"
)

var logbookBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) clock.Clock {
	return clock.Func(func() time.Time { return t })
}

func TestListOrdersOldestFirst(t *testing.T) {
	s := NewStore("", fixedClock(logbookBase))
	s.ReplaceRemote([]Entry{
		{ID: "n2", Name: "Afternoon review", CreatedAt: logbookBase.Add(2 * time.Hour)},
		{ID: "n1", Name: "Morning standup", CreatedAt: logbookBase.Add(-1 * time.Hour)},
	})
	s.Append("", "Wired the export path", "", "Exporter")

	entries := s.List()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "n1" || entries[1].ID != "n2" {
		t.Fatalf("Expected chronological order, got %q then %q", entries[0].ID, entries[1].ID)
	}
	if !entries[2].Local {
		t.Fatal("Expected the appended entry to be local and most recent")
	}
	if entries[2].Name != "2025-06-01 09:00" {
		t.Fatalf("Expected timestamp label for unnamed entry, got %q", entries[2].Name)
	}
}

func TestReplaceRemoteKeepsLocalEntries(t *testing.T) {
	s := NewStore("", fixedClock(logbookBase))
	local := s.Append("Draft notes", "Outline done", "", "")
	s.ReplaceRemote([]Entry{{ID: "n1", Name: "Synced", CreatedAt: logbookBase}})

	s.ReplaceRemote([]Entry{{ID: "n2", Name: "Fresh sync", CreatedAt: logbookBase.Add(time.Hour)}})

	if _, ok := s.Get("n1"); ok {
		t.Fatal("Expected stale synced entry to be dropped")
	}
	if _, ok := s.Get("n2"); !ok {
		t.Fatal("Expected fresh synced entry to be present")
	}
	if _, ok := s.Get(local.ID); !ok {
		t.Fatal("Expected local entry to survive the sync")
	}
}

func TestUpdateEditsAnyEntry(t *testing.T) {
	s := NewStore("", fixedClock(logbookBase))
	s.ReplaceRemote([]Entry{{ID: "n1", Name: "Synced", Content: "old", CreatedAt: logbookBase}})

	content := "rebound to exporter"
	taskName := "Exporter"
	updated, ok := s.Update("n1", Patch{Content: &content, TaskName: &taskName})
	if !ok {
		t.Fatal("Expected update of a synced entry to succeed")
	}
	if updated.Content != content || updated.TaskName != taskName {
		t.Fatalf("Unexpected entry after update: %+v", updated)
	}

	if _, ok := s.Update("missing", Patch{Content: &content}); ok {
		t.Fatal("Expected update of an unknown id to fail")
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := NewStore("", fixedClock(logbookBase))
	e := s.Append("Note", "text", "", "")

	if !s.Delete(e.ID) {
		t.Fatal("Expected delete to succeed")
	}
	if s.Delete(e.ID) {
		t.Fatal("Expected second delete to fail")
	}
	if len(s.List()) != 0 {
		t.Fatal("Expected empty logbook after delete")
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.json")
	s := NewStore(path, fixedClock(logbookBase))
	e := s.Append("Note", "persisted text", "t1", "Exporter")

	reloaded := NewStore(path, fixedClock(logbookBase))
	got, ok := reloaded.Get(e.ID)
	if !ok {
		t.Fatal("Expected entry to survive reload")
	}
	if got.Content != "persisted text" || !got.Local {
		t.Fatalf("Unexpected entry after reload: %+v", got)
	}
}

func TestDisplayTaskURLReconstructsNotionLink(t *testing.T) {
	e := Entry{TaskID: "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"}
	want := "https://www.notion.so/0a1b2c3d4e5f60718293a4b5c6d7e8f9"
	if got := e.DisplayTaskURL(); got != want {
		t.Fatalf("Expected %q, got %q", want, got)
	}

	if got := (Entry{TaskID: "local-id"}).DisplayTaskURL(); got != "" {
		t.Fatalf("Expected no URL for a non-Notion id, got %q", got)
	}
	if got := (Entry{TaskURL: "https://example.com/t"}).DisplayTaskURL(); got != "https://example.com/t" {
		t.Fatalf("Expected stored URL to win, got %q", got)
	}
}
