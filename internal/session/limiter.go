// Package session implements the shop session lifecycle: limit-enforced
// creation, request-path token resolution with cache fallback, asynchronous
// heartbeat/refresh updates, and scheduled reaping of dead sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/repository"
)

// shopMutex serializes session creation per shop so two concurrent logins
// can never both observe "4 of 5 used" and proceed. Cross-shop creations
// run unserialized.
type shopMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newShopMutex() *shopMutex {
	return &shopMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for a shop domain, creating it on first use.
// Locks are never removed; the per-shop footprint is one mutex.
func (s *shopMutex) Lock(shopDomain string) *sync.Mutex {
	s.mu.Lock()
	lock, ok := s.locks[shopDomain]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[shopDomain] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock
}

// Limiter enforces the maximum-concurrent-sessions-per-shop invariant.
// Session creation runs synchronously inside one transaction: load active
// sessions with row locks, evict the least recently used until the new
// session fits, insert, commit. Partial eviction is never visible.
type Limiter struct {
	repo      repository.SessionRepository
	cache     cache.Cache
	cfg       *config.SessionConfig
	metrics   *monitor.Metrics
	logger    *logrus.Logger
	shopLocks *shopMutex
}

// NewLimiter creates a session limiter.
func NewLimiter(
	repo repository.SessionRepository,
	sessionCache cache.Cache,
	cfg *config.SessionConfig,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Limiter {
	return &Limiter{
		repo:      repo,
		cache:     sessionCache,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
		shopLocks: newShopMutex(),
	}
}

// CreateSession creates a session for the shop identified by shopDomain,
// evicting the oldest sessions (by last-accessed-at, so a long-lived but
// recently used session survives) when the per-shop limit would otherwise be
// exceeded. Returns the created or refreshed session and the ids of any
// evicted sessions so callers can notify connected clients.
//
// If the device fingerprint matches an existing active session, that session
// is refreshed in place instead of creating a duplicate (idempotent login).
func (l *Limiter) CreateSession(
	ctx context.Context,
	shopDomain string,
	accessToken string,
	device models.DeviceInfo,
) (*models.Session, []string, error) {
	lock := l.shopLocks.Lock(shopDomain)
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.StoreTimeout)
	defer cancel()

	shop, err := l.repo.UpsertShop(ctx, shopDomain)
	if err != nil {
		return nil, nil, classifyStoreError(err)
	}

	now := time.Now().UTC()
	fingerprint := device.Fingerprint()

	var (
		created *models.Session
		evicted []string
	)

	txErr := l.repo.WithTx(ctx, func(tx repository.SessionTx) error {
		// Idempotent re-login: refresh the matching session in place.
		existing, findErr := tx.FindActiveByFingerprint(ctx, shop.ID, fingerprint)
		if findErr == nil {
			expiresAt := now.Add(l.cfg.SessionTTL)
			if refreshErr := tx.RefreshSession(ctx, existing.ID, accessToken, expiresAt, now); refreshErr != nil {
				return refreshErr
			}
			existing.AccessToken = accessToken
			existing.ExpiresAt = expiresAt
			existing.LastAccessedAt = now
			created = existing
			return nil
		}
		if !isNotFound(findErr) {
			return findErr
		}

		active, loadErr := tx.ActiveSessionsForUpdate(ctx, shop.ID)
		if loadErr != nil {
			return loadErr
		}

		// Evict least-recently-used sessions until the new one fits.
		// The rows arrive ordered by last_accessed_at ascending.
		if excess := len(active) - (l.cfg.MaxPerShop - 1); excess > 0 {
			for _, victim := range active[:excess] {
				evicted = append(evicted, victim.ID)
			}
			if evictErr := tx.DeactivateSessions(ctx, evicted); evictErr != nil {
				evicted = nil
				return evictErr
			}
		}

		session := &models.Session{
			ID:                uuid.NewString(),
			ShopID:            shop.ID,
			ShopDomain:        shop.Domain,
			AccessToken:       accessToken,
			DeviceFingerprint: fingerprint,
			DeviceDescription: device.Description(),
			CreatedAt:         now,
			LastAccessedAt:    now,
			ExpiresAt:         now.Add(l.cfg.SessionTTL),
			Active:            true,
		}
		if insertErr := tx.InsertSession(ctx, session); insertErr != nil {
			return insertErr
		}

		created = session
		return nil
	})
	if txErr != nil {
		return nil, nil, classifyStoreError(txErr)
	}

	l.metrics.SessionsCreated.Inc()
	l.metrics.SessionsEvicted.Add(float64(len(evicted)))

	// Cache maintenance happens after commit: evicted entries are removed
	// and the new session is written through. Cache failures are logged and
	// ignored; the store already committed and entries are re-creatable.
	for _, id := range evicted {
		if cacheErr := l.cache.DeleteEntry(ctx, id); cacheErr != nil {
			l.logger.WithError(cacheErr).WithField("session_id", id).
				Warn("Failed to evict cached entry for evicted session")
		}
	}
	l.writeThrough(ctx, created)

	l.logger.WithFields(logrus.Fields{
		"shop":       shopDomain,
		"session_id": created.ID,
		"evicted":    len(evicted),
	}).Info("Session created")

	return created, evicted, nil
}

// writeThrough populates the cache for a freshly created or refreshed
// session, bounding the entry TTL by the session's remaining lifetime.
func (l *Limiter) writeThrough(ctx context.Context, session *models.Session) {
	entry := &models.CacheEntry{
		SessionID:        session.ID,
		ShopID:           session.ShopID,
		ShopDomain:       session.ShopDomain,
		AccessToken:      session.AccessToken,
		SessionExpiresAt: session.ExpiresAt,
	}

	ttl := entryTTL(l.cfg.CacheTTL, session.ExpiresAt)
	if ttl <= 0 {
		return
	}

	if err := l.cache.StoreEntry(ctx, entry, ttl); err != nil {
		l.logger.WithError(err).WithField("session_id", session.ID).
			Warn("Failed to populate session cache")
		return
	}
	if err := l.cache.SetShopSessionID(ctx, session.ShopDomain, session.ID, ttl); err != nil {
		l.logger.WithError(err).WithField("shop", session.ShopDomain).
			Warn("Failed to update shop session pointer")
	}
}

// entryTTL bounds the configured cache TTL by the session's remaining
// lifetime so a cached entry can never outlive its session.
func entryTTL(configured time.Duration, expiresAt time.Time) time.Duration {
	remaining := time.Until(expiresAt)
	if remaining < configured {
		return remaining
	}
	return configured
}

// isNotFound reports whether err is the session-not-found error.
func isNotFound(err error) bool {
	return errors.Is(err, models.ErrSessionNotFound)
}
