package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/session"
)

func newTestService(t *testing.T) (*session.Service, *fakeRepo, cache.Cache) {
	t.Helper()

	logger := newTestLogger()
	repo := newFakeRepo()
	store := cache.NewMemoryStore(logger)
	t.Cleanup(func() { _ = store.Close() })

	svc := session.NewService(repo, store, testSessionConfig(), monitor.NewMetrics(), logger)
	return svc, repo, store
}

func TestListSessionsMarksCurrentAndHidesTokens(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	shop, err := repo.UpsertShop(ctx, testShopDomain)
	require.NoError(t, err)

	now := time.Now().UTC()
	current := seedReaperSession(repo, shop.ID, now, now.Add(24*time.Hour), true)
	other := seedReaperSession(repo, shop.ID, now.Add(-time.Hour), now.Add(24*time.Hour), true)
	// Inactive sessions do not appear in the listing.
	seedReaperSession(repo, shop.ID, now, now.Add(24*time.Hour), false)

	summaries, err := svc.ListSessions(ctx, shop.ID, current.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := make(map[string]models.SessionSummary, len(summaries))
	for _, s := range summaries {
		byID[s.ID] = s
	}
	assert.True(t, byID[current.ID].IsCurrent)
	assert.False(t, byID[other.ID].IsCurrent)
}

func TestTerminateSessionRejectsOwnWithoutForce(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	shop, err := repo.UpsertShop(ctx, testShopDomain)
	require.NoError(t, err)
	now := time.Now().UTC()
	current := seedReaperSession(repo, shop.ID, now, now.Add(24*time.Hour), true)

	err = svc.TerminateSession(ctx, shop.ID, current.ID, current.ID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOwnSessionTermination)
	assert.True(t, repo.getSession(current.ID).Active, "the guarded session must stay active")
}

func TestTerminateSessionOwnWithForce(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	shop, err := repo.UpsertShop(ctx, testShopDomain)
	require.NoError(t, err)
	now := time.Now().UTC()
	current := seedReaperSession(repo, shop.ID, now, now.Add(24*time.Hour), true)

	require.NoError(t, svc.TerminateSession(ctx, shop.ID, current.ID, current.ID, true))
	assert.False(t, repo.getSession(current.ID).Active)
}

func TestTerminateSessionEvictsCacheEntry(t *testing.T) {
	svc, repo, store := newTestService(t)
	ctx := context.Background()

	shop, err := repo.UpsertShop(ctx, testShopDomain)
	require.NoError(t, err)
	now := time.Now().UTC()
	target := seedReaperSession(repo, shop.ID, now, now.Add(24*time.Hour), true)

	require.NoError(t, store.StoreEntry(ctx, &models.CacheEntry{SessionID: target.ID, AccessToken: "tok"}, time.Hour))

	require.NoError(t, svc.TerminateSession(ctx, shop.ID, target.ID, "another-session", false))

	assert.False(t, repo.getSession(target.ID).Active)
	_, err = store.GetEntry(ctx, target.ID)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestTerminateSessionRequiresOwningShop(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	shop, err := repo.UpsertShop(ctx, testShopDomain)
	require.NoError(t, err)
	otherShop, err := repo.UpsertShop(ctx, "globex.myshop.io")
	require.NoError(t, err)

	now := time.Now().UTC()
	target := seedReaperSession(repo, shop.ID, now, now.Add(24*time.Hour), true)

	err = svc.TerminateSession(ctx, otherShop.ID, target.ID, "another-session", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSessionNotFound, "a shop can only terminate its own sessions")
	assert.True(t, repo.getSession(target.ID).Active)
}
