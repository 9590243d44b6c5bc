package shared

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHostLock_SerializesHolders(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "netconfig.lock")
	first := NewHostLock(path)
	second := NewHostLock(path)

	require.NoError(t, first.Lock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, second.Lock(ctx), context.DeadlineExceeded)

	first.Unlock()
	require.NoError(t, second.Lock(context.Background()))
	second.Unlock()
}

func TestHostLock_UnlockWithoutLockIsHarmless(t *testing.T) {
	t.Parallel()

	l := NewHostLock(filepath.Join(t.TempDir(), "x.lock"))
	l.Unlock()
	require.NoError(t, l.Lock(context.Background()))
	l.Unlock()
}
