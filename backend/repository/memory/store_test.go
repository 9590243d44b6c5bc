package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secureproxy/backend/domain"
)

func TestSettingsRepoUpdate(t *testing.T) {
	t.Parallel()

	repo := NewSettingsRepo(NewStore(nil))
	before := time.Now()
	got := repo.Update(func(s *domain.Settings) {
		s.SystemProxyEnabled = true
		s.TunEnabled = true
	})
	require.True(t, got.SystemProxyEnabled)
	require.True(t, got.TunEnabled)
	require.False(t, got.GeneratedAt.Before(before))
	require.Equal(t, got, repo.Get())
}
