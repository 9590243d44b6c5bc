package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secureproxy/backend/domain"
)

func TestSettingsStore_LoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	s := NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"))
	state, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, state.SchemaVersion)
	require.Empty(t, state.ActiveConfig)
}

func TestSettingsStore_UpdateIsPersistedAfterDebounce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "settings.json")
	s := NewSettingsStore(path)
	s.SetDebounce(10 * time.Millisecond)

	s.Update(func(st *domain.Settings) { st.ActiveConfig = "A" })
	s.Update(func(st *domain.Settings) { st.SystemProxyEnabled = true })
	require.NoError(t, s.WaitIdle(2*time.Second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got domain.Settings
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, "A", got.ActiveConfig)
	require.True(t, got.SystemProxyEnabled)
	require.Equal(t, SchemaVersion, got.SchemaVersion)
	require.False(t, got.GeneratedAt.IsZero())

	reloaded := NewSettingsStore(path)
	state, err := reloaded.Load()
	require.NoError(t, err)
	require.Equal(t, "A", state.ActiveConfig)
}

func TestSettingsStore_SaveNowLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewSettingsStore(filepath.Join(dir, "settings.json"))
	require.NoError(t, s.SaveNow())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "settings.json", entries[0].Name())
}
