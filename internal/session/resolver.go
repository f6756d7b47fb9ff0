package session

import (
	"context"
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/repository"
)

// HeartbeatScheduler schedules a non-blocking last-seen update for a session.
type HeartbeatScheduler interface {
	ScheduleHeartbeat(sessionID string)
}

// Resolver is the request-path entry point: it resolves a request's identity
// hints to a valid access token via cache-then-store fallback, or fails
// closed. The fast path never touches the relational store.
type Resolver struct {
	cache     cache.Cache
	repo      repository.SessionRepository
	scheduler HeartbeatScheduler
	cfg       *config.SessionConfig
	metrics   *monitor.Metrics
	logger    *logrus.Logger
}

// NewResolver creates an auth resolver. The scheduler may be nil, in which
// case successful resolutions do not produce heartbeats (used in tests).
func NewResolver(
	sessionCache cache.Cache,
	repo repository.SessionRepository,
	scheduler HeartbeatScheduler,
	cfg *config.SessionConfig,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Resolver {
	return &Resolver{
		cache:     sessionCache,
		repo:      repo,
		scheduler: scheduler,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// ResolveToken resolves the request's identity hints to a valid access token
// and its session id. On failure it returns models.ErrUnauthenticated; a
// token is never fabricated or extended.
func (r *Resolver) ResolveToken(ctx context.Context, hints models.IdentityHints) (string, string, error) {
	entry, err := r.Resolve(ctx, hints)
	if err != nil {
		return "", "", err
	}
	return entry.AccessToken, entry.SessionID, nil
}

// Resolve resolves identity hints to the full cached session projection.
//
// Hints are tried in strict precedence order, first success wins:
//  1. explicit session identifier (session cookie)
//  2. shop-domain parameter
//  3. previously stored session attribute
//  4. referrer-derived shop domain
//
// The ordering is deliberate: when a client presents inconsistent signals
// (stale cookie plus fresh query parameter) the most explicit signal decides.
// Every successful resolution schedules a non-blocking heartbeat.
func (r *Resolver) Resolve(ctx context.Context, hints models.IdentityHints) (*models.CacheEntry, error) {
	var lastErr error

	if hints.SessionID != "" {
		entry, err := r.resolveBySessionID(ctx, hints.SessionID)
		if err == nil {
			return r.resolved(entry), nil
		}
		lastErr = err
	}

	if hints.ShopDomain != "" {
		entry, err := r.resolveByShopDomain(ctx, hints.ShopDomain)
		if err == nil {
			return r.resolved(entry), nil
		}
		lastErr = err
	}

	if hints.StoredSessionID != "" && hints.StoredSessionID != hints.SessionID {
		entry, err := r.resolveBySessionID(ctx, hints.StoredSessionID)
		if err == nil {
			return r.resolved(entry), nil
		}
		lastErr = err
	}

	if domain := shopDomainFromReferrer(hints.Referrer); domain != "" && domain != hints.ShopDomain {
		entry, err := r.resolveByShopDomain(ctx, domain)
		if err == nil {
			return r.resolved(entry), nil
		}
		lastErr = err
	}

	// Store failures propagate as-is so the boundary can distinguish an
	// outage (fail closed, 503) from a plain unauthenticated request.
	if errors.Is(lastErr, models.ErrStoreUnavailable) {
		return nil, lastErr
	}

	return nil, models.NewUnauthenticated("no valid session for request", lastErr)
}

// resolved records the cache side effects of a successful resolution and
// schedules the heartbeat.
func (r *Resolver) resolved(entry *models.CacheEntry) *models.CacheEntry {
	if r.scheduler != nil {
		r.scheduler.ScheduleHeartbeat(entry.SessionID)
	}
	return entry
}

// resolveBySessionID looks up one session: cache fast path, then store
// fallback with write-through repopulation.
func (r *Resolver) resolveBySessionID(ctx context.Context, sessionID string) (*models.CacheEntry, error) {
	entry, err := r.cache.GetEntry(ctx, sessionID)
	if err == nil {
		r.metrics.CacheHits.Inc()
		return entry, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// Cache outage is never fail-closed: fall through to the store.
		r.logger.WithError(err).Warn("Session cache unavailable, falling back to store")
	}
	r.metrics.CacheMisses.Inc()

	session, storeErr := r.lookupStore(ctx, func(ctx context.Context) (*models.Session, error) {
		return r.repo.GetActiveSession(ctx, sessionID)
	})
	if storeErr != nil {
		return nil, storeErr
	}

	return r.repopulate(ctx, session), nil
}

// resolveByShopDomain resolves the shop's most recent active session. The
// cached shop pointer keeps this path off the store when possible.
func (r *Resolver) resolveByShopDomain(ctx context.Context, shopDomain string) (*models.CacheEntry, error) {
	sessionID, err := r.cache.GetShopSessionID(ctx, shopDomain)
	if err == nil {
		entry, entryErr := r.cache.GetEntry(ctx, sessionID)
		if entryErr == nil {
			r.metrics.CacheHits.Inc()
			return entry, nil
		}
		if !errors.Is(entryErr, cache.ErrCacheMiss) {
			r.logger.WithError(entryErr).Warn("Session cache unavailable, falling back to store")
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		// Cache outage is never fail-closed: fall through to the store.
		r.logger.WithError(err).Warn("Session cache unavailable, falling back to store")
	}
	r.metrics.CacheMisses.Inc()

	session, storeErr := r.lookupStore(ctx, func(ctx context.Context) (*models.Session, error) {
		return r.repo.LatestActiveSessionForShop(ctx, shopDomain)
	})
	if storeErr != nil {
		return nil, storeErr
	}

	return r.repopulate(ctx, session), nil
}

// lookupStore runs a store lookup under the request-path timeout.
func (r *Resolver) lookupStore(
	ctx context.Context,
	fn func(ctx context.Context) (*models.Session, error),
) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	session, err := fn(ctx)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return session, nil
}

// classifyStoreError maps raw store failures (refused or dropped connections,
// timeouts, scan errors) to the store-unavailable category so the boundary
// fails closed with 503 instead of treating an outage as a missing session.
// Already-categorized errors pass through unchanged.
func classifyStoreError(err error) error {
	var sessionErr *models.SessionError
	if errors.As(err, &sessionErr) {
		return err
	}
	return models.NewStoreUnavailable(err)
}

// repopulate writes a fresh cache entry for a store-resolved session.
// Write-through failures are logged and ignored; the resolution itself
// already succeeded against the source of truth.
func (r *Resolver) repopulate(ctx context.Context, session *models.Session) *models.CacheEntry {
	entry := &models.CacheEntry{
		SessionID:        session.ID,
		ShopID:           session.ShopID,
		ShopDomain:       session.ShopDomain,
		AccessToken:      session.AccessToken,
		SessionExpiresAt: session.ExpiresAt,
	}

	if ttl := entryTTL(r.cfg.CacheTTL, session.ExpiresAt); ttl > 0 {
		if err := r.cache.StoreEntry(ctx, entry, ttl); err != nil {
			r.logger.WithError(err).WithField("session_id", session.ID).
				Warn("Failed to repopulate session cache")
		} else if err := r.cache.SetShopSessionID(ctx, session.ShopDomain, session.ID, ttl); err != nil {
			r.logger.WithError(err).WithField("shop", session.ShopDomain).
				Warn("Failed to update shop session pointer")
		}
	}

	return entry
}

// shopDomainFromReferrer derives a shop-domain hint from the Referer header.
// Returns an empty string when the referrer is absent or unparsable.
func shopDomainFromReferrer(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	host := u.Query().Get("shop")
	if host != "" {
		return host
	}
	return u.Hostname()
}
