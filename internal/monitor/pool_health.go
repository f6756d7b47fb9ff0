// Package monitor observes the relational store's connection pool and trips
// a circuit breaker when exhaustion is imminent. The monitor is purely
// self-protective: it never rejects application traffic, it only suppresses
// its own diagnostic probes and emits severity-graded log signals for
// operators.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/models"
)

const probeTimeout = 3 * time.Second

// BreakerState is the circuit breaker state.
type BreakerState int32

const (
	// BreakerClosed is the normal state: monitoring with probes allowed.
	BreakerClosed BreakerState = iota
	// BreakerOpen suppresses connection-test probes until the cooldown
	// elapses, so the monitor never competes for scarce connections.
	BreakerOpen
)

// String returns the breaker state name.
func (s BreakerState) String() string {
	if s == BreakerOpen {
		return "open"
	}
	return "closed"
}

// StatsSource produces point-in-time pool health snapshots. Reading a
// snapshot must never require acquiring a pool connection.
type StatsSource interface {
	Snapshot() (models.PoolHealthSnapshot, bool)
}

// Prober performs a connection-test probe against the store.
type Prober interface {
	Ping(ctx context.Context) error
}

// PoolGetter returns the current connection pool, or nil when unavailable.
type PoolGetter func() *pgxpool.Pool

// PgxStatsSource reads snapshots from a pgxpool. The waiting-acquire count
// is derived from the pool's cumulative empty-acquire counter, reported as a
// delta between consecutive snapshots.
type PgxStatsSource struct {
	getPool          PoolGetter
	mu               sync.Mutex
	lastEmptyAcquire int64
}

// NewPgxStatsSource creates a stats source over the current connection pool.
func NewPgxStatsSource(getPool PoolGetter) *PgxStatsSource {
	return &PgxStatsSource{getPool: getPool}
}

// Snapshot reads the pool statistics. The second return value is false when
// no pool is available.
func (s *PgxStatsSource) Snapshot() (models.PoolHealthSnapshot, bool) {
	pool := s.getPool()
	if pool == nil {
		return models.PoolHealthSnapshot{}, false
	}

	stat := pool.Stat()

	s.mu.Lock()
	empty := stat.EmptyAcquireCount()
	waiting := empty - s.lastEmptyAcquire
	if waiting < 0 {
		waiting = 0
	}
	s.lastEmptyAcquire = empty
	s.mu.Unlock()

	return models.PoolHealthSnapshot{
		AcquiredConns:   stat.AcquiredConns(),
		IdleConns:       stat.IdleConns(),
		TotalConns:      stat.TotalConns(),
		MaxConns:        stat.MaxConns(),
		WaitingAcquires: waiting,
		TakenAt:         time.Now(),
	}, true
}

// PoolHealthMonitor polls the connection pool on a fixed interval, computes
// utilization, and manages the circuit breaker state. A single explicitly
// configured instance is constructed at startup and shared; there is no
// global monitoring state.
type PoolHealthMonitor struct {
	cfg     *config.BreakerConfig
	source  StatsSource
	prober  Prober
	metrics *Metrics
	logger  *logrus.Logger

	mu       sync.Mutex
	state    BreakerState
	openedAt time.Time

	// now is replaceable for deterministic tests.
	now func() time.Time
}

// NewPoolHealthMonitor creates a pool health monitor. The prober may be nil,
// in which case connection-test probes are skipped entirely.
func NewPoolHealthMonitor(
	cfg *config.BreakerConfig,
	source StatsSource,
	prober Prober,
	metrics *Metrics,
	logger *logrus.Logger,
) *PoolHealthMonitor {
	return &PoolHealthMonitor{
		cfg:     cfg,
		source:  source,
		prober:  prober,
		metrics: metrics,
		logger:  logger,
		state:   BreakerClosed,
		now:     time.Now,
	}
}

// State returns the current breaker state.
func (m *PoolHealthMonitor) State() BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run executes Tick on the configured interval until the context is
// cancelled.
func (m *PoolHealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick performs one monitoring cycle: advance the breaker state, read pool
// metrics, run a connection-test probe when the breaker allows it, and emit
// severity-graded log signals.
func (m *PoolHealthMonitor) Tick(ctx context.Context) {
	m.mu.Lock()
	now := m.now()

	if m.state == BreakerOpen {
		if now.Sub(m.openedAt) < m.cfg.Cooldown {
			// Probes stay suppressed; pool stats are still safe to read
			// because they don't require acquiring a connection.
			m.mu.Unlock()
			m.observe(false)
			return
		}

		// Cooldown elapsed: re-enable probing unconditionally so recovery
		// can be detected. If conditions are still bad, this same tick
		// reopens the breaker below.
		m.state = BreakerClosed
		m.metrics.BreakerState.Set(0)
		m.logger.Info("Pool health breaker cooldown elapsed, resuming probes")
	}
	m.mu.Unlock()

	m.probe(ctx)
	m.observe(true)
}

// probe runs a connection test against the store. Only called while Closed.
func (m *PoolHealthMonitor) probe(ctx context.Context) {
	if m.prober == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := m.prober.Ping(probeCtx); err != nil {
		m.logger.WithError(err).Warn("Pool health probe failed")
	}
}

// observe reads a snapshot, updates gauges, and, when mayTrip is set,
// evaluates the breaker trip condition.
func (m *PoolHealthMonitor) observe(mayTrip bool) {
	snap, ok := m.source.Snapshot()
	if !ok {
		return
	}

	util := snap.Utilization()
	m.metrics.PoolUtilization.Set(util)

	fields := logrus.Fields{
		"acquired":    snap.AcquiredConns,
		"idle":        snap.IdleConns,
		"total":       snap.TotalConns,
		"max":         snap.MaxConns,
		"waiting":     snap.WaitingAcquires,
		"utilization": util,
	}

	// All three conditions together, so a momentary utilization spike with
	// idle headroom or no waiters never trips the breaker.
	exhausted := util >= m.cfg.CriticalThreshold &&
		snap.IdleConns == 0 &&
		snap.WaitingAcquires > 0

	switch {
	case exhausted:
		m.logger.WithFields(fields).Error("Connection pool exhaustion imminent")
		if mayTrip {
			m.trip()
		}
	case util >= m.cfg.CriticalThreshold:
		m.logger.WithFields(fields).Error("Connection pool utilization critical")
	case util >= m.cfg.WarnThreshold:
		m.logger.WithFields(fields).Warn("Connection pool utilization high")
	default:
		m.logger.WithFields(fields).Debug("Connection pool healthy")
	}
}

// trip opens the breaker and records the open time for the cooldown window.
func (m *PoolHealthMonitor) trip() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == BreakerOpen {
		return
	}

	m.state = BreakerOpen
	m.openedAt = m.now()
	m.metrics.BreakerState.Set(1)
	m.logger.WithField("cooldown", m.cfg.Cooldown.String()).
		Error("Pool health breaker opened, suppressing probes")
}
