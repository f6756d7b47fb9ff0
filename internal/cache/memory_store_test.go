package cache_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/models"
)

func newMemoryStore(t *testing.T) *cache.MemoryStore {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := cache.NewMemoryStore(logger)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntry(sessionID string) *models.CacheEntry {
	return &models.CacheEntry{
		SessionID:        sessionID,
		ShopID:           "shop-1",
		ShopDomain:       "acme.myshop.io",
		AccessToken:      "tok-1",
		SessionExpiresAt: time.Now().UTC().Add(time.Hour),
	}
}

func TestMemoryStoreEntryRoundTrip(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	entry := testEntry("sess-1")
	require.NoError(t, store.StoreEntry(ctx, entry, time.Minute))

	got, err := store.GetEntry(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, entry.AccessToken, got.AccessToken)
	assert.Equal(t, entry.ShopDomain, got.ShopDomain)
}

func TestMemoryStoreGetEntryMiss(t *testing.T) {
	store := newMemoryStore(t)

	_, err := store.GetEntry(context.Background(), "absent")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestMemoryStoreEntryExpires(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreEntry(ctx, testEntry("sess-1"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := store.GetEntry(ctx, "sess-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss, "expired entries behave as misses before cleanup runs")
}

func TestMemoryStoreDeleteEntry(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreEntry(ctx, testEntry("sess-1"), time.Minute))
	require.NoError(t, store.DeleteEntry(ctx, "sess-1"))

	_, err := store.GetEntry(ctx, "sess-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.StoreEntry(ctx, testEntry("sess-1"), time.Minute))

	first, err := store.GetEntry(ctx, "sess-1")
	require.NoError(t, err)
	first.AccessToken = "mutated"

	second, err := store.GetEntry(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", second.AccessToken, "callers must never share the cached struct")
}

func TestMemoryStoreShopPointer(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetShopSessionID(ctx, "acme.myshop.io", "sess-1", time.Minute))

	id, err := store.GetShopSessionID(ctx, "acme.myshop.io")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)

	require.NoError(t, store.DeleteShopSessionID(ctx, "acme.myshop.io"))
	_, err = store.GetShopSessionID(ctx, "acme.myshop.io")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := cache.NewMemoryStore(logger)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
