package persist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrator_AcceptsCurrentAndUnversioned(t *testing.T) {
	t.Parallel()

	m := NewMigrator()

	s, err := m.Migrate([]byte(`{"schemaVersion":"1.0.0","activeConfig":"A","tunEnabled":true}`))
	require.NoError(t, err)
	require.Equal(t, "A", s.ActiveConfig)
	require.True(t, s.TunEnabled)

	s, err = m.Migrate([]byte(`{"activeConfig":"B"}`))
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, s.SchemaVersion)
	require.Equal(t, "B", s.ActiveConfig)
	require.False(t, s.GeneratedAt.IsZero())
}

func TestMigrator_RejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	_, err := NewMigrator().Migrate([]byte(`{"schemaVersion":"9.9.9"}`))
	require.Error(t, err)
}

func TestMigrator_DropsUnsafeActiveConfigName(t *testing.T) {
	t.Parallel()

	s, err := NewMigrator().Migrate([]byte(`{"activeConfig":"../etc/passwd"}`))
	require.NoError(t, err)
	require.Empty(t, s.ActiveConfig)
}
