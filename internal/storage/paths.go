package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sunlibo2390/notion-telegram-secretary-bot/internal/pathutil"
)

// ResolveDataDir resolves the configured data directory.
// If empty, it falls back to ~/.secretary.
func ResolveDataDir(dataDir string) (string, error) {
	if trimmed := strings.TrimSpace(dataDir); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".secretary"), nil
}

// EnsureLayout creates the data directory tree.
func EnsureLayout(dataDir string) error {
	for _, dir := range []string{
		dataDir,
		filepath.Join(dataDir, "state"),
		filepath.Join(dataDir, "records"),
		filepath.Join(dataDir, "history"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// WindowsPath returns the time-window snapshot file.
func WindowsPath(dataDir string) string {
	return filepath.Join(dataDir, "state", "windows.json")
}

// TrackersPath returns the reminder-entry snapshot file.
func TrackersPath(dataDir string) string {
	return filepath.Join(dataDir, "state", "trackers.json")
}

// ChatStatePath returns the chat-state snapshot file.
func ChatStatePath(dataDir string) string {
	return filepath.Join(dataDir, "state", "chat_state.json")
}

// ProcessedPath returns the processed-delivery key file.
func ProcessedPath(dataDir string) string {
	return filepath.Join(dataDir, "state", "processed.json")
}

// TasksPath returns the synced task record cache file.
func TasksPath(dataDir string) string {
	return filepath.Join(dataDir, "records", "tasks.json")
}

// CustomTasksPath returns the locally created task record file.
func CustomTasksPath(dataDir string) string {
	return filepath.Join(dataDir, "records", "custom_tasks.json")
}

// LogbookPath returns the work-log record cache file.
func LogbookPath(dataDir string) string {
	return filepath.Join(dataDir, "records", "logs.json")
}

// HistoryDir returns the per-chat transcript directory.
func HistoryDir(dataDir string) string {
	return filepath.Join(dataDir, "history")
}

// VectorDir returns the semantic recall index directory.
func VectorDir(dataDir string) string {
	return filepath.Join(dataDir, "vector")
}

// LockPath returns the single-instance lock file.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "secretary.lock")
}
