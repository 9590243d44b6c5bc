package sysproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGVariantStringList_RoundTrip(t *testing.T) {
	t.Parallel()

	items := []string{"localhost", "*.local", "it's"}
	require.Equal(t, items, parseGVariantStringList(formatGVariantStringList(items)))
	require.Nil(t, parseGVariantStringList(formatGVariantStringList(nil)))
	require.Equal(t, []string{"localhost", "127.0.0.0/8"}, parseGVariantStringList("['localhost', '127.0.0.0/8']"))
}

func TestUnquoteGVariant(t *testing.T) {
	t.Parallel()

	require.Equal(t, "manual", unquoteGVariant("'manual'"))
	require.Equal(t, "", unquoteGVariant("''"))
	require.Equal(t, "1080", unquoteGVariant("1080"))
}
