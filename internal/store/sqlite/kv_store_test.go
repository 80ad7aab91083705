package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

func TestKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "tradewatch.db")

	store, err := Open(path)
	require.NoError(t, err)

	_, err = store.Get(ctx, domain.KeyActivePositions)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Set(ctx, domain.KeyActivePositions, []byte(`[{"id":"a"}]`)))
	require.NoError(t, store.Set(ctx, domain.KeyActivePositions, []byte(`[]`)))

	got, err := store.Get(ctx, domain.KeyActivePositions)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err = reopened.Get(ctx, domain.KeyActivePositions)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got), "survives restart")
}
