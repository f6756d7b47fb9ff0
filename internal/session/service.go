package session

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/repository"
)

// Service exposes the session-management operations consumed by the
// dashboard UI: listing a shop's active sessions and terminating one.
type Service struct {
	repo    repository.SessionRepository
	cache   cache.Cache
	cfg     *config.SessionConfig
	metrics *monitor.Metrics
	logger  *logrus.Logger
}

// NewService creates the session-management service.
func NewService(
	repo repository.SessionRepository,
	sessionCache cache.Cache,
	cfg *config.SessionConfig,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Service {
	return &Service{
		repo:    repo,
		cache:   sessionCache,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// ListSessions returns the shop's active sessions as UI-safe summaries,
// marking the caller's current session. Access tokens are never included.
func (s *Service) ListSessions(
	ctx context.Context,
	shopID, currentSessionID string,
) ([]models.SessionSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	sessions, err := s.repo.ListActiveByShop(ctx, shopID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, models.SessionSummary{
			ID:                sess.ID,
			DeviceDescription: sess.DeviceDescription,
			CreatedAt:         sess.CreatedAt,
			LastAccessedAt:    sess.LastAccessedAt,
			ExpiresAt:         sess.ExpiresAt,
			IsCurrent:         sess.ID == currentSessionID,
		})
	}

	return summaries, nil
}

// TerminateSession deactivates one of the shop's sessions and evicts its
// cache entry. Terminating the caller's own current session is rejected
// unless force is set.
func (s *Service) TerminateSession(
	ctx context.Context,
	shopID, sessionID, currentSessionID string,
	force bool,
) error {
	if sessionID == currentSessionID && !force {
		return models.ErrOwnSessionTermination.
			WithDescription("refusing to terminate the current session without force")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	if err := s.repo.TerminateSession(ctx, shopID, sessionID); err != nil {
		return err
	}

	s.metrics.SessionsTerminated.Inc()

	if err := s.cache.DeleteEntry(ctx, sessionID); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Failed to evict cache entry for terminated session")
	}

	s.logger.WithFields(logrus.Fields{
		"shop_id":    shopID,
		"session_id": sessionID,
		"forced":     force,
	}).Info("Session terminated")

	return nil
}
