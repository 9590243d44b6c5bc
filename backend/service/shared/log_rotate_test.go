package shared

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRotateLogFile_RenamesNonEmptyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	require.NoError(t, RotateLogFile(path, 7*24*time.Hour))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "expected %s to be rotated away", path)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "engine-"))
	require.True(t, strings.HasSuffix(entries[0].Name(), ".log"))
}

func TestRotateLogFile_EmptyFileIsLeftInPlace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	require.NoError(t, RotateLogFile(path, 0))
	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestRotateLogFile_PrunesOldRotatedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	old := filepath.Join(dir, "app-20000101-000000.log")
	require.NoError(t, os.WriteFile(old, []byte("old"), 0o600))
	oldTime := time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, oldTime, oldTime))

	keep := filepath.Join(dir, "app-29990101-000000.log")
	require.NoError(t, os.WriteFile(keep, []byte("keep"), 0o600))

	require.NoError(t, RotateLogFile(path, 7*24*time.Hour))

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	require.NoError(t, err)
}

func TestFreeRotatedName_AvoidsCollisions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 1, 16, 23, 59, 59, 0, time.Local)
	first, err := freeRotatedName(dir, "app", ".log", now)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o600))

	second, err := freeRotatedName(dir, "app", ".log", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "app-20260116-235959-1.log"), second)
}
