package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T, rotateMaxBytes int64) *Store {
	t.Helper()
	s, err := NewStore(Options{
		Dir:            filepath.Join(t.TempDir(), "history"),
		RotateMaxBytes: rotateMaxBytes,
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestRecentReturnsTailOldestFirst(t *testing.T) {
	s := newTestStore(t, 0)

	for i, text := range []string{"one", "two", "three", "four"} {
		if err := s.RecordUser(7, int64(i+1), text); err != nil {
			t.Fatalf("RecordUser failed: %v", err)
		}
	}

	msgs, err := s.Recent(7, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "three" || msgs[1].Text != "four" {
		t.Fatalf("Expected the last two messages in order, got %q then %q", msgs[0].Text, msgs[1].Text)
	}
}

func TestRecentForUnknownChatIsEmpty(t *testing.T) {
	s := newTestStore(t, 0)

	msgs, err := s.Recent(404, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("Expected no messages, got %d", len(msgs))
	}
}

func TestTranscriptsAreIsolatedPerChat(t *testing.T) {
	s := newTestStore(t, 0)

	s.RecordUser(1, 10, "for chat one")
	s.RecordBot(2, "for chat two")

	msgs, err := s.Recent(1, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "for chat one" {
		t.Fatalf("Unexpected chat-one transcript: %+v", msgs)
	}
	if msgs[0].Direction != DirectionUser {
		t.Fatalf("Expected user direction, got %q", msgs[0].Direction)
	}
}

func TestArchiveStartsFreshTranscript(t *testing.T) {
	s := newTestStore(t, 0)

	s.RecordUser(7, 1, "before clear")
	if err := s.Archive(7); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}
	s.RecordUser(7, 2, "after clear")

	msgs, err := s.Recent(7, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "after clear" {
		t.Fatalf("Expected only the post-archive message, got %+v", msgs)
	}

	backups, err := filepath.Glob(filepath.Join(s.dir, "7.jsonl.*.bak"))
	if err != nil || len(backups) != 1 {
		t.Fatalf("Expected one archived transcript, got %v (err %v)", backups, err)
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatalf("Failed to read archive: %v", err)
	}
	if !strings.Contains(string(data), "before clear") {
		t.Fatal("Expected archived transcript to keep the old message")
	}
}

func TestArchiveWithoutTranscriptIsNoop(t *testing.T) {
	s := newTestStore(t, 0)
	if err := s.Archive(99); err != nil {
		t.Fatalf("Expected archive of a missing transcript to succeed, got %v", err)
	}
}

func TestAppendRotatesOversizedTranscript(t *testing.T) {
	s := newTestStore(t, 64)

	s.RecordUser(7, 1, strings.Repeat("x", 80))
	s.RecordUser(7, 2, "fresh line")

	msgs, err := s.Recent(7, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "fresh line" {
		t.Fatalf("Expected rotation before the second append, got %+v", msgs)
	}
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	s := newTestStore(t, 0)

	s.RecordUser(7, 1, "good line")
	f, err := os.OpenFile(s.transcriptPath(7), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open transcript: %v", err)
	}
	f.WriteString("{not json\n")
	f.Close()
	s.RecordBot(7, "another good line")

	msgs, err := s.Recent(7, 0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 parseable messages, got %d", len(msgs))
	}
}

func TestVectorSearchWithoutIndexIsEmpty(t *testing.T) {
	s := newTestStore(t, 0)

	res, err := s.SearchVectors(7, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("SearchVectors failed: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("Expected no results without a vector dir, got %d", len(res))
	}
}

func TestVectorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Options{
		Dir:       filepath.Join(dir, "history"),
		VectorDir: filepath.Join(dir, "vector"),
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.Start()
	t.Cleanup(s.Stop)

	if err := s.UpsertVector(7, "m1", []float32{1, 0}, map[string]string{"direction": DirectionUser}, "shipped the exporter"); err != nil {
		t.Fatalf("UpsertVector failed: %v", err)
	}
	if err := s.UpsertVector(7, "m2", []float32{0, 1}, nil, "booked a dentist appointment"); err != nil {
		t.Fatalf("UpsertVector failed: %v", err)
	}

	res, err := s.SearchVectors(7, []float32{1, 0}, 1)
	if err != nil {
		t.Fatalf("SearchVectors failed: %v", err)
	}
	if len(res) != 1 || res[0].ID != "m1" {
		t.Fatalf("Expected closest vector m1, got %+v", res)
	}
	if res[0].Content != "shipped the exporter" {
		t.Fatalf("Unexpected content %q", res[0].Content)
	}

	// A limit larger than the collection must not error.
	res, err = s.SearchVectors(7, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("SearchVectors with large limit failed: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("Expected both vectors, got %d", len(res))
	}
}

func TestRecallDisabledWithoutEmbedder(t *testing.T) {
	s := newTestStore(t, 0)
	r := NewRecall(s, nil)

	if r.Enabled() {
		t.Fatal("Expected recall to be disabled without an embedder")
	}
	r.Remember(context.Background(), 7, DirectionUser, "text")
	res, err := r.Search(context.Background(), 7, "text", 3)
	if err != nil || res != nil {
		t.Fatalf("Expected disabled recall to be inert, got %v / %v", res, err)
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	// Tiny deterministic embedding: length and vowel count.
	var vowels float32
	for _, r := range text {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		}
	}
	return []float32{float32(len(text)), vowels}, nil
}

func TestRecallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Options{
		Dir:       filepath.Join(dir, "history"),
		VectorDir: filepath.Join(dir, "vector"),
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	s.Start()
	t.Cleanup(s.Stop)

	r := NewRecall(s, stubEmbedder{})
	if !r.Enabled() {
		t.Fatal("Expected recall to be enabled")
	}
	r.Remember(context.Background(), 7, DirectionUser, "rewrote the billing module")

	res, err := r.Search(context.Background(), 7, "rewrote the billing module", 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("Expected one recalled exchange, got %d", len(res))
	}
	if res[0].Metadata["direction"] != DirectionUser {
		t.Fatalf("Expected direction metadata, got %+v", res[0].Metadata)
	}
}
