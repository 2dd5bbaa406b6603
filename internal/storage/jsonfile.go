package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// LoadJSON reads a snapshot file into v. A missing, unreadable or corrupt
// file is treated as an empty snapshot: the daemon must come up even when
// a previous run left garbage behind. Returns whether v was populated.
func LoadJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Snapshot unreadable, starting empty", "path", path, "error", err)
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("Snapshot corrupt, starting empty", "path", path, "error", err)
		return false
	}
	return true
}

// SaveJSON atomically replaces the snapshot file with the JSON encoding
// of v, creating parent directories as needed.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
