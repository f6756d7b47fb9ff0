package session_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/repository"
)

// newTestLogger returns a logger that discards all output.
func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeRepo is an in-memory SessionRepository with failure injection. It also
// implements SessionTx so WithTx hands it back to the callback directly;
// the tests that need rollback semantics assert on observable state instead.
type fakeRepo struct {
	mu       sync.Mutex
	shops    map[string]*models.Shop
	sessions map[string]*models.Session

	touchErr        error
	updateTokenErr  error
	updateTokenFail int
	listErr         error

	// storeErr simulates a connection-level outage: lookups and the login
	// transaction fail with it as-is, the way a dropped connection surfaces
	// from the driver.
	storeErr error

	touchCount       int
	updateTokenCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		shops:    make(map[string]*models.Shop),
		sessions: make(map[string]*models.Session),
	}
}

func (r *fakeRepo) UpsertShop(_ context.Context, domain string) (*models.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return nil, r.storeErr
	}
	if shop, ok := r.shops[domain]; ok {
		return shop, nil
	}
	shop := &models.Shop{
		ID:        uuid.NewString(),
		Domain:    domain,
		CreatedAt: time.Now().UTC(),
	}
	r.shops[domain] = shop
	return shop, nil
}

func (r *fakeRepo) GetShopByDomain(_ context.Context, domain string) (*models.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	shop, ok := r.shops[domain]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return shop, nil
}

func (r *fakeRepo) WithTx(_ context.Context, fn func(tx repository.SessionTx) error) error {
	r.mu.Lock()
	outage := r.storeErr
	r.mu.Unlock()
	if outage != nil {
		return outage
	}
	return fn(r)
}

func (r *fakeRepo) GetActiveSession(_ context.Context, sessionID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return nil, r.storeErr
	}
	sess, ok := r.sessions[sessionID]
	if !ok || !sess.IsValid(time.Now().UTC()) {
		return nil, models.ErrSessionNotFound
	}
	clone := *sess
	return &clone, nil
}

func (r *fakeRepo) LatestActiveSessionForShop(_ context.Context, shopDomain string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.storeErr != nil {
		return nil, r.storeErr
	}
	var latest *models.Session
	now := time.Now().UTC()
	for _, sess := range r.sessions {
		if sess.ShopDomain != shopDomain || !sess.IsValid(now) {
			continue
		}
		if latest == nil || sess.LastAccessedAt.After(latest.LastAccessedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, models.ErrSessionNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *fakeRepo) ListActiveByShop(_ context.Context, shopID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listErr != nil {
		return nil, r.listErr
	}

	var result []*models.Session
	now := time.Now().UTC()
	for _, sess := range r.sessions {
		if sess.ShopID == shopID && sess.IsValid(now) {
			clone := *sess
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastAccessedAt.After(result[j].LastAccessedAt)
	})
	return result, nil
}

func (r *fakeRepo) TouchSession(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.touchCount++
	if r.touchErr != nil {
		return r.touchErr
	}

	sess, ok := r.sessions[sessionID]
	if !ok || !sess.Active {
		return models.ErrSessionNotFound
	}
	if sess.LastAccessedAt.Before(at) {
		sess.LastAccessedAt = at
	}
	return nil
}

func (r *fakeRepo) UpdateToken(_ context.Context, sessionID, accessToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.updateTokenCalls++
	if r.updateTokenErr != nil {
		return r.updateTokenErr
	}
	if r.updateTokenFail > 0 {
		r.updateTokenFail--
		return errors.New("store write failed")
	}

	sess, ok := r.sessions[sessionID]
	if !ok || !sess.Active {
		return models.ErrSessionNotFound
	}
	sess.AccessToken = accessToken
	sess.ExpiresAt = expiresAt
	return nil
}

func (r *fakeRepo) DeactivateSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[sessionID]; ok {
		sess.Active = false
	}
	return nil
}

func (r *fakeRepo) TerminateSession(_ context.Context, shopID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok || sess.ShopID != shopID || !sess.Active {
		return models.ErrSessionNotFound
	}
	sess.Active = false
	return nil
}

func (r *fakeRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, sess := range r.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) MarkInactiveStale(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	now := time.Now().UTC()
	for id, sess := range r.sessions {
		if sess.IsValid(now) && sess.LastAccessedAt.Before(cutoff) {
			sess.Active = false
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeRepo) DeleteOrphanSessions(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := make(map[string]bool)
	for _, shop := range r.shops {
		owned[shop.ID] = true
	}

	var count int64
	for id, sess := range r.sessions {
		if !owned[sess.ShopID] {
			delete(r.sessions, id)
			count++
		}
	}
	return count, nil
}

// SessionTx methods: the fake hands itself back inside WithTx.

func (r *fakeRepo) ActiveSessionsForUpdate(_ context.Context, shopID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.Session
	now := time.Now().UTC()
	for _, sess := range r.sessions {
		if sess.ShopID == shopID && sess.IsValid(now) {
			result = append(result, sess)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastAccessedAt.Before(result[j].LastAccessedAt)
	})
	return result, nil
}

func (r *fakeRepo) FindActiveByFingerprint(_ context.Context, shopID, fingerprint string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, sess := range r.sessions {
		if sess.ShopID == shopID && sess.DeviceFingerprint == fingerprint && sess.IsValid(now) {
			clone := *sess
			return &clone, nil
		}
	}
	return nil, models.ErrSessionNotFound
}

func (r *fakeRepo) InsertSession(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeRepo) RefreshSession(_ context.Context, sessionID, accessToken string, expiresAt, lastAccessed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	sess.AccessToken = accessToken
	sess.ExpiresAt = expiresAt
	sess.LastAccessedAt = lastAccessed
	return nil
}

func (r *fakeRepo) DeactivateSessions(_ context.Context, sessionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range sessionIDs {
		if sess, ok := r.sessions[id]; ok {
			sess.Active = false
		}
	}
	return nil
}

// activeCount returns the number of valid sessions for a shop.
func (r *fakeRepo) activeCount(shopID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	now := time.Now().UTC()
	for _, sess := range r.sessions {
		if sess.ShopID == shopID && sess.IsValid(now) {
			count++
		}
	}
	return count
}

// seedSession inserts a session directly, bypassing the limiter.
func (r *fakeRepo) seedSession(sess *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *sess
	r.sessions[sess.ID] = &clone
}

// getSession returns a copy of the stored session.
func (r *fakeRepo) getSession(sessionID string) *models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	clone := *sess
	return &clone
}

// fakeScheduler records heartbeat scheduling.
type fakeScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *fakeScheduler) ScheduleHeartbeat(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, sessionID)
}

func (s *fakeScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// flakyCache wraps a Cache and injects failures per operation.
type flakyCache struct {
	cache.Cache

	failGet   bool
	failStore bool
}

var errCacheDown = errors.New("cache connection refused")

func (c *flakyCache) GetEntry(ctx context.Context, sessionID string) (*models.CacheEntry, error) {
	if c.failGet {
		return nil, errCacheDown
	}
	return c.Cache.GetEntry(ctx, sessionID)
}

func (c *flakyCache) StoreEntry(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) error {
	if c.failStore {
		return errCacheDown
	}
	return c.Cache.StoreEntry(ctx, entry, ttl)
}

func (c *flakyCache) GetShopSessionID(ctx context.Context, shopDomain string) (string, error) {
	if c.failGet {
		return "", errCacheDown
	}
	return c.Cache.GetShopSessionID(ctx, shopDomain)
}
