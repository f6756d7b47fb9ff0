package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/repository"
)

// taskKind discriminates updater queue entries.
type taskKind int

const (
	taskHeartbeat taskKind = iota
	taskTokenRefresh
)

// task is one queued background operation.
type task struct {
	kind        taskKind
	sessionID   string
	accessToken string
}

// Updater persists heartbeat and token-refresh updates off the request path.
// Tasks flow through a bounded queue into a small fixed worker pool, separate
// from the request-serving goroutines. Each task runs in its own short store
// operation, never nested inside a caller's transaction.
//
// Heartbeats are best-effort: when the queue is full they are dropped, and a
// failed heartbeat is logged and superseded by the next cycle. Token
// refreshes must not be lost: enqueueing blocks briefly on a full queue, and
// failed refreshes are retried with bounded attempts before the session is
// deactivated rather than left ambiguous.
type Updater struct {
	repo    repository.SessionRepository
	cache   cache.Cache
	cfg     *config.UpdaterConfig
	session *config.SessionConfig
	metrics *monitor.Metrics
	logger  *logrus.Logger

	tasks    chan task
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}

	// sendMu serializes task sends against the queue close in Stop so a
	// schedule racing a shutdown can never send on a closed channel.
	sendMu sync.RWMutex
}

// NewUpdater creates the async session updater. Call Start to launch the
// worker pool and Stop to drain it.
func NewUpdater(
	repo repository.SessionRepository,
	sessionCache cache.Cache,
	cfg *config.UpdaterConfig,
	sessionCfg *config.SessionConfig,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Updater {
	return &Updater{
		repo:    repo,
		cache:   sessionCache,
		cfg:     cfg,
		session: sessionCfg,
		metrics: metrics,
		logger:  logger,
		tasks:   make(chan task, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

// Start launches the background worker pool.
func (u *Updater) Start() {
	for i := 0; i < u.cfg.Workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.logger.WithField("workers", u.cfg.Workers).Info("Async session updater started")
}

// Stop closes the queue and waits for in-flight tasks to finish, up to the
// context deadline.
func (u *Updater) Stop(ctx context.Context) {
	u.stopOnce.Do(func() {
		u.sendMu.Lock()
		close(u.stopped)
		close(u.tasks)
		u.sendMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		u.logger.Info("Async session updater drained")
	case <-ctx.Done():
		u.logger.Warn("Async session updater shutdown timed out")
	}
}

// ScheduleHeartbeat enqueues a last-seen update for the session. Fire and
// forget: when the queue is full the heartbeat is dropped and the next
// heartbeat supersedes it.
func (u *Updater) ScheduleHeartbeat(sessionID string) {
	u.sendMu.RLock()
	defer u.sendMu.RUnlock()

	select {
	case <-u.stopped:
		return
	default:
	}

	select {
	case u.tasks <- task{kind: taskHeartbeat, sessionID: sessionID}:
		u.metrics.HeartbeatsScheduled.Inc()
	default:
		u.metrics.HeartbeatsDropped.Inc()
		u.logger.WithField("session_id", sessionID).Debug("Heartbeat dropped, queue full")
	}
}

// ScheduleTokenRefresh enqueues a token replacement for the session. Unlike
// heartbeats, refreshes must not be dropped: on a full queue the call blocks
// up to the enqueue timeout and reports failure after that.
func (u *Updater) ScheduleTokenRefresh(sessionID, accessToken string) error {
	u.sendMu.RLock()
	defer u.sendMu.RUnlock()

	select {
	case <-u.stopped:
		return models.ErrStoreUnavailable.WithDescription("updater is shut down")
	default:
	}

	select {
	case u.tasks <- task{kind: taskTokenRefresh, sessionID: sessionID, accessToken: accessToken}:
		return nil
	case <-time.After(u.cfg.EnqueueTimeout):
		u.metrics.TokenRefreshFailures.Inc()
		u.logger.WithField("session_id", sessionID).
			Error("Token refresh enqueue timed out, queue full")
		return models.ErrStoreUnavailable.WithDescription("updater queue full")
	}
}

// worker consumes tasks until the queue closes.
func (u *Updater) worker() {
	defer u.wg.Done()

	for t := range u.tasks {
		switch t.kind {
		case taskHeartbeat:
			u.runHeartbeat(t)
		case taskTokenRefresh:
			u.runTokenRefresh(t)
		}
	}
}

// runHeartbeat persists one last-seen update. Failures are logged and
// dropped, not retried: the next heartbeat cycle supersedes this one.
func (u *Updater) runHeartbeat(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.TaskTimeout)
	defer cancel()

	if err := u.repo.TouchSession(ctx, t.sessionID, time.Now().UTC()); err != nil {
		u.logger.WithError(err).WithField("session_id", t.sessionID).
			Warn("Heartbeat persistence failed, dropping")
	}
}

// runTokenRefresh persists a token replacement with bounded retries. After
// exhausting attempts the session is deactivated so it gets reaped instead
// of lingering with an unknown token state.
func (u *Updater) runTokenRefresh(t task) {
	var lastErr error

	for attempt := 1; attempt <= u.cfg.RefreshAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), u.cfg.TaskTimeout)
		err := u.repo.UpdateToken(ctx, t.sessionID, t.accessToken, time.Now().UTC().Add(u.session.SessionTTL))
		cancel()

		if err == nil {
			u.refreshCacheEntry(t.sessionID, t.accessToken)
			return
		}
		if isNotFound(err) {
			// Session disappeared under us; nothing to refresh.
			u.logger.WithField("session_id", t.sessionID).
				Debug("Token refresh target no longer active")
			return
		}

		lastErr = err
		u.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": t.sessionID,
			"attempt":    attempt,
		}).Warn("Token refresh attempt failed")

		if attempt < u.cfg.RefreshAttempts {
			time.Sleep(u.cfg.RetryBackoff)
		}
	}

	u.metrics.TokenRefreshFailures.Inc()
	u.logger.WithError(lastErr).WithField("session_id", t.sessionID).
		Error("Token refresh exhausted retries, flagging session for reaping")

	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.TaskTimeout)
	defer cancel()

	if err := u.repo.DeactivateSession(ctx, t.sessionID); err != nil {
		u.logger.WithError(err).WithField("session_id", t.sessionID).
			Error("Failed to deactivate session after refresh failure")
	}
	if err := u.cache.DeleteEntry(ctx, t.sessionID); err != nil {
		u.logger.WithError(err).WithField("session_id", t.sessionID).
			Warn("Failed to evict cache entry after refresh failure")
	}
}

// refreshCacheEntry rewrites the cached projection after a successful token
// refresh so the fast path serves the new token immediately.
func (u *Updater) refreshCacheEntry(sessionID, accessToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.TaskTimeout)
	defer cancel()

	entry, err := u.cache.GetEntry(ctx, sessionID)
	if err != nil {
		// Nothing cached; the next resolution repopulates from the store.
		return
	}

	entry.AccessToken = accessToken
	entry.SessionExpiresAt = time.Now().UTC().Add(u.session.SessionTTL)

	if storeErr := u.cache.StoreEntry(ctx, entry, entryTTL(u.session.CacheTTL, entry.SessionExpiresAt)); storeErr != nil {
		u.logger.WithError(storeErr).WithField("session_id", sessionID).
			Warn("Failed to refresh cached token")
	}
}
