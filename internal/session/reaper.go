package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/repository"
)

const reaperOpTimeout = 30 * time.Second

// Reaper removes dead sessions on fixed schedules. Three tiers run on
// independent intervals:
//
//	expired: expires_at in the past, hard delete
//	stale:   last access older than the inactivity threshold but not yet
//	         expired, mark inactive and evict from cache
//	deep:    cross-shop sweep deleting sessions whose owning shop is gone
//
// All tiers share the resolver's "active AND expires_at > now" predicate and
// run their deletes in single statements, so a session a concurrent
// resolution just validated inside its own statement is never reaped by the
// same logical read.
type Reaper struct {
	repo    repository.SessionRepository
	cache   cache.Cache
	cfg     *config.ReaperConfig
	session *config.SessionConfig
	metrics *monitor.Metrics
	logger  *logrus.Logger
}

// NewReaper creates a session reaper.
func NewReaper(
	repo repository.SessionRepository,
	sessionCache cache.Cache,
	cfg *config.ReaperConfig,
	sessionCfg *config.SessionConfig,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Reaper {
	return &Reaper{
		repo:    repo,
		cache:   sessionCache,
		cfg:     cfg,
		session: sessionCfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Run drives the three sweep tiers on their configured intervals until the
// context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	expired := time.NewTicker(r.cfg.ExpiredInterval)
	stale := time.NewTicker(r.cfg.StaleInterval)
	deep := time.NewTicker(r.cfg.DeepInterval)
	defer expired.Stop()
	defer stale.Stop()
	defer deep.Stop()

	r.logger.WithFields(logrus.Fields{
		"expired_interval": r.cfg.ExpiredInterval.String(),
		"stale_interval":   r.cfg.StaleInterval.String(),
		"deep_interval":    r.cfg.DeepInterval.String(),
	}).Info("Session reaper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Session reaper stopped")
			return
		case <-expired.C:
			r.SweepExpired(ctx)
		case <-stale.C:
			r.SweepStale(ctx)
		case <-deep.C:
			r.SweepOrphans(ctx)
		}
	}
}

// SweepExpired hard-deletes sessions whose expiry has passed.
// Returns the number of sessions removed.
func (r *Reaper) SweepExpired(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, reaperOpTimeout)
	defer cancel()

	count, err := r.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		r.logger.WithError(err).Error("Expired session sweep failed")
		return 0
	}

	if count > 0 {
		r.metrics.SessionsReaped.WithLabelValues("expired").Add(float64(count))
		r.logger.WithField("count", count).Info("Reaped expired sessions")
	}
	return count
}

// SweepStale marks sessions inactive when their last access is older than
// the inactivity threshold, and evicts their cache entries.
// Returns the number of sessions deactivated.
func (r *Reaper) SweepStale(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, reaperOpTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.session.InactivityTimeout)
	ids, err := r.repo.MarkInactiveStale(ctx, cutoff)
	if err != nil {
		r.logger.WithError(err).Error("Stale session sweep failed")
		return 0
	}

	for _, id := range ids {
		if cacheErr := r.cache.DeleteEntry(ctx, id); cacheErr != nil {
			r.logger.WithError(cacheErr).WithField("session_id", id).
				Warn("Failed to evict cache entry for stale session")
		}
	}

	if len(ids) > 0 {
		r.metrics.SessionsReaped.WithLabelValues("stale").Add(float64(len(ids)))
		r.logger.WithField("count", len(ids)).Info("Deactivated stale sessions")
	}
	return int64(len(ids))
}

// SweepOrphans deletes sessions whose owning shop no longer exists.
// Returns the number of sessions removed.
func (r *Reaper) SweepOrphans(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, reaperOpTimeout)
	defer cancel()

	count, err := r.repo.DeleteOrphanSessions(ctx)
	if err != nil {
		r.logger.WithError(err).Error("Orphan session sweep failed")
		return 0
	}

	if count > 0 {
		r.metrics.SessionsReaped.WithLabelValues("orphan").Add(float64(count))
		r.logger.WithField("count", count).Info("Reaped orphan sessions")
	}
	return count
}
