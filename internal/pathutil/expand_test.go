package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpand_HomeShortcut(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := Expand("~/.secretary/data")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".secretary", "data"), got)
}

func TestExpand_EnvVar(t *testing.T) {
	t.Setenv("SECRETARY_PATH_TEST", "/tmp/secretary-path")

	got, err := Expand("$SECRETARY_PATH_TEST/data")
	require.NoError(t, err)
	require.Equal(t, filepath.Clean("/tmp/secretary-path/data"), got)
}

func TestExpand_Empty(t *testing.T) {
	got, err := Expand("   ")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExpand_HomeEnvTilde(t *testing.T) {
	t.Setenv("HOME", "~")

	got, err := Expand("~/.secretary/data")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	require.NotEqual(t, byte('~'), got[0], "path not expanded: %q", got)
}
