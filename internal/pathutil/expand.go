package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves $VAR references and a leading "~" to an absolute-ish
// cleaned path. Empty input stays empty.
func Expand(path string) (string, error) {
	p := os.ExpandEnv(strings.TrimSpace(path))
	if p == "" {
		return "", nil
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
	}

	return filepath.Clean(p), nil
}

// homeDir tries os.UserHomeDir, then the passwd database, then $HOME.
// A value that still contains "~" is rejected rather than re-expanded.
func homeDir() (string, error) {
	candidates := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}
	if current, err := user.Current(); err == nil {
		candidates = append(candidates, current.HomeDir)
	}
	candidates = append(candidates, os.Getenv("HOME"))

	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" || c == "~" || strings.HasPrefix(c, "~/") {
			continue
		}
		return c, nil
	}
	return "", fmt.Errorf("home dir not resolvable")
}
