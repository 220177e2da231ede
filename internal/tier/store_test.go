// internal/tier/store_test.go
package tier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	store := NewMemoryStore(LayerMemory, 10)

	_, err := store.Get("stock-data:AAPL")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set("stock-data:AAPL", []byte(`{"price":190}`), time.Hour))

	data, err := store.Get("stock-data:AAPL")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"price":190}`), data)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(LayerMemory, 10).WithNow(func() time.Time { return now })

	require.NoError(t, store.Set("market-data", []byte("snapshot"), 15*time.Minute))

	_, err := store.Get("market-data")
	require.NoError(t, err)

	now = now.Add(16 * time.Minute)
	_, err = store.Get("market-data")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_EvictsSoonestWhenFull(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(LayerMemory, 2).WithNow(func() time.Time { return now })

	require.NoError(t, store.Set("short", []byte("a"), time.Minute))
	require.NoError(t, store.Set("long", []byte("b"), time.Hour))
	require.NoError(t, store.Set("new", []byte("c"), time.Hour))

	_, err := store.Get("short")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get("long")
	assert.NoError(t, err)
	_, err = store.Get("new")
	assert.NoError(t, err)
}

func TestMemoryStore_SetExistingDoesNotEvict(t *testing.T) {
	store := NewMemoryStore(LayerMemory, 2)

	require.NoError(t, store.Set("a", []byte("1"), time.Hour))
	require.NoError(t, store.Set("b", []byte("2"), time.Hour))
	require.NoError(t, store.Set("a", []byte("3"), time.Hour))

	data, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), data)

	_, err = store.Get("b")
	assert.NoError(t, err)
}

func TestMemoryStore_Stats(t *testing.T) {
	store := NewMemoryStore(LayerMemory, 10)

	require.NoError(t, store.Set("a", []byte("1234"), time.Hour))

	_, _ = store.Get("a")
	_, _ = store.Get("a")
	_, _ = store.Get("missing")

	stats := store.Stats()
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, int64(4), stats.Size)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestMemoryStore_RemoveAndClear(t *testing.T) {
	store := NewMemoryStore(LayerMemory, 10)

	require.NoError(t, store.Set("a", []byte("1"), time.Hour))
	require.NoError(t, store.Remove("a"))
	_, err := store.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set("b", []byte("2"), time.Hour))
	require.NoError(t, store.Clear())
	assert.Equal(t, 0, store.Stats().EntryCount)
}

func TestMemoryStore_KeysSkipsExpired(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(LayerMemory, 10).WithNow(func() time.Time { return now })

	require.NoError(t, store.Set("live", []byte("1"), time.Hour))
	require.NoError(t, store.Set("dying", []byte("2"), time.Minute))

	now = now.Add(5 * time.Minute)
	keys := store.Keys()
	assert.Equal(t, []string{"live"}, keys)
}
