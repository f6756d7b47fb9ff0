package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/session"
)

type resolverFixture struct {
	resolver  *session.Resolver
	repo      *fakeRepo
	store     cache.Cache
	scheduler *fakeScheduler
}

func newResolverFixture(t *testing.T, store cache.Cache) *resolverFixture {
	t.Helper()

	logger := newTestLogger()
	repo := newFakeRepo()
	if store == nil {
		memory := cache.NewMemoryStore(logger)
		t.Cleanup(func() { _ = memory.Close() })
		store = memory
	}
	scheduler := &fakeScheduler{}
	resolver := session.NewResolver(store, repo, scheduler, testSessionConfig(), monitor.NewMetrics(), logger)

	return &resolverFixture{
		resolver:  resolver,
		repo:      repo,
		store:     store,
		scheduler: scheduler,
	}
}

// seedActive creates a shop and one active session in the store only.
func (f *resolverFixture) seedActive(t *testing.T, domain, token string) *models.Session {
	t.Helper()

	shop, err := f.repo.UpsertShop(context.Background(), domain)
	require.NoError(t, err)

	sess := &models.Session{
		ID:                uuid.NewString(),
		ShopID:            shop.ID,
		ShopDomain:        domain,
		AccessToken:       token,
		DeviceFingerprint: uuid.NewString(),
		CreatedAt:         time.Now().UTC(),
		LastAccessedAt:    time.Now().UTC(),
		ExpiresAt:         time.Now().UTC().Add(24 * time.Hour),
		Active:            true,
	}
	f.repo.seedSession(sess)
	return sess
}

func TestResolveCacheHitReturnsExactToken(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-cached")
	entry := &models.CacheEntry{
		SessionID:        sess.ID,
		ShopID:           sess.ShopID,
		ShopDomain:       sess.ShopDomain,
		AccessToken:      sess.AccessToken,
		SessionExpiresAt: sess.ExpiresAt,
	}
	require.NoError(t, f.store.StoreEntry(ctx, entry, 15*time.Minute))

	token, sessionID, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "tok-cached", token, "cache hit must return the exact stored token")
	assert.Equal(t, sess.ID, sessionID)
}

func TestResolveCacheMissFallsBackToStoreAndRepopulates(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-store")

	token, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "tok-store", token)

	// The store-resolved session is written back to the cache.
	entry, err := f.store.GetEntry(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-store", entry.AccessToken)
	assert.Equal(t, sess.ShopID, entry.ShopID)
}

func TestResolveCacheOutageFallsBackToStore(t *testing.T) {
	logger := newTestLogger()
	memory := cache.NewMemoryStore(logger)
	t.Cleanup(func() { _ = memory.Close() })
	flaky := &flakyCache{Cache: memory, failGet: true, failStore: true}

	f := newResolverFixture(t, flaky)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-store")

	// Cache outage is never fail-closed: the store answers.
	token, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "tok-store", token)
}

func TestResolveByShopDomain(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-shop")

	token, sessionID, err := f.resolver.ResolveToken(ctx, models.IdentityHints{ShopDomain: testShopDomain})
	require.NoError(t, err)
	assert.Equal(t, "tok-shop", token)
	assert.Equal(t, sess.ID, sessionID)
}

func TestResolveByShopDomainPicksMostRecentlyAccessed(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	older := f.seedActive(t, testShopDomain, "tok-old")
	require.NoError(t, f.repo.TouchSession(ctx, older.ID, time.Now().UTC().Add(-time.Hour)))
	newer := f.seedActive(t, testShopDomain, "tok-new")
	require.NoError(t, f.repo.TouchSession(ctx, newer.ID, time.Now().UTC().Add(time.Hour)))

	_, sessionID, err := f.resolver.ResolveToken(ctx, models.IdentityHints{ShopDomain: testShopDomain})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, sessionID)
}

func TestResolvePrecedenceSessionIDWinsOverShopDomain(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	byID := f.seedActive(t, testShopDomain, "tok-by-id")
	// A different shop whose domain hint would resolve elsewhere.
	other := f.seedActive(t, "globex.myshop.io", "tok-by-domain")

	token, sessionID, err := f.resolver.ResolveToken(ctx, models.IdentityHints{
		SessionID:  byID.ID,
		ShopDomain: other.ShopDomain,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-by-id", token, "the explicit session id must win over the shop-domain hint")
	assert.Equal(t, byID.ID, sessionID)
}

func TestResolveFallsThroughDeadHints(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	live := f.seedActive(t, testShopDomain, "tok-live")

	// Dead cookie, dead domain, live stored session attribute.
	_, sessionID, err := f.resolver.ResolveToken(ctx, models.IdentityHints{
		SessionID:       uuid.NewString(),
		ShopDomain:      "gone.myshop.io",
		StoredSessionID: live.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, live.ID, sessionID)
}

func TestResolveReferrerIsLastResort(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-ref")

	_, sessionID, err := f.resolver.ResolveToken(ctx, models.IdentityHints{
		Referrer: "https://dashboard.storesight.io/?shop=" + testShopDomain,
	})
	require.NoError(t, err)
	assert.Equal(t, sess.ID, sessionID)
}

func TestResolveNoHintsFailsClosed(t *testing.T) {
	f := newResolverFixture(t, nil)

	_, _, err := f.resolver.ResolveToken(context.Background(), models.IdentityHints{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestResolveExpiredSessionFailsClosed(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-dead")
	stored := f.repo.getSession(sess.ID)
	stored.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	f.repo.seedSession(stored)

	_, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnauthenticated, "an expired session must never resolve")
}

func TestResolveSchedulesHeartbeat(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-hb")

	_, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.NoError(t, err)

	scheduled := f.scheduler.scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, sess.ID, scheduled[0])
}

func TestResolveRepopulatedEntryGetsFreshTTL(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-fresh")

	// First resolution repopulates the cache from the store.
	_, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.NoError(t, err)

	entry, err := f.store.GetEntry(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", entry.AccessToken)

	// The repopulated entry serves subsequent resolutions without the store.
	require.NoError(t, f.repo.DeactivateSession(ctx, sess.ID))
	token, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, "tok-fresh", token)
}

func TestResolveStoreOutageFailsAsStoreUnavailable(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	sess := f.seedActive(t, testShopDomain, "tok-1")
	f.repo.storeErr = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

	_, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{SessionID: sess.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable,
		"a store outage must surface as unavailable, not as a missing session")
	assert.NotErrorIs(t, err, models.ErrUnauthenticated)
}

func TestResolveStoreOutageOnShopDomainFailsAsStoreUnavailable(t *testing.T) {
	f := newResolverFixture(t, nil)
	ctx := context.Background()

	f.seedActive(t, testShopDomain, "tok-1")
	f.repo.storeErr = errors.New("unexpected EOF")

	_, _, err := f.resolver.ResolveToken(ctx, models.IdentityHints{ShopDomain: testShopDomain})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}

func TestResolveShopPointerCacheOutageFallsBackToStore(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	repo := newFakeRepo()
	memory := cache.NewMemoryStore(newTestLogger())
	t.Cleanup(func() { _ = memory.Close() })
	flaky := &flakyCache{Cache: memory, failGet: true}
	resolver := session.NewResolver(flaky, repo, nil, testSessionConfig(), monitor.NewMetrics(), logger)
	ctx := context.Background()

	shop, err := repo.UpsertShop(ctx, testShopDomain)
	require.NoError(t, err)
	repo.seedSession(&models.Session{
		ID:             uuid.NewString(),
		ShopID:         shop.ID,
		ShopDomain:     testShopDomain,
		AccessToken:    "tok-shop",
		CreatedAt:      time.Now().UTC(),
		LastAccessedAt: time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
		Active:         true,
	})

	token, _, err := resolver.ResolveToken(ctx, models.IdentityHints{ShopDomain: testShopDomain})
	require.NoError(t, err, "a cache outage must never fail closed")
	assert.Equal(t, "tok-shop", token)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "the cache outage is logged on the fallback path")
}
