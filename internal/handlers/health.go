package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/cache"
	"github.com/teja230/storesight-sub006/internal/constants"
	"github.com/teja230/storesight-sub006/internal/database"
	"github.com/teja230/storesight-sub006/internal/monitor"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	cache    cache.Cache
	database *database.Manager
	breaker  *monitor.PoolHealthMonitor
	logger   *logrus.Logger
}

// NewHealthHandler creates a new health handler instance. The database
// manager and breaker may be nil when the service runs without a relational
// store (memory-only mode).
func NewHealthHandler(
	sessionCache cache.Cache,
	db *database.Manager,
	breaker *monitor.PoolHealthMonitor,
	logger *logrus.Logger,
) *HealthHandler {
	return &HealthHandler{
		cache:    sessionCache,
		database: db,
		breaker:  breaker,
		logger:   logger,
	}
}

// RegisterRoutes registers health check routes on the provided router.
func (h *HealthHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
}

// healthStatus represents the overall health response.
type healthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]checkResult `json:"checks"`
}

// checkResult represents a single dependency check.
type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health handles GET /health
// Returns the status of all dependencies. The connection-pool breaker state
// is reported but never fails the check: the breaker is observational.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := healthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]checkResult),
	}

	if err := h.cache.Ping(ctx); err != nil {
		// Cache loss degrades performance but never correctness.
		status.Status = "degraded"
		status.Checks["cache"] = checkResult{Status: "unhealthy", Message: err.Error()}
	} else {
		status.Checks["cache"] = checkResult{Status: "healthy"}
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks["database"] = checkResult{Status: "unhealthy", Message: err.Error()}
		} else {
			status.Checks["database"] = checkResult{Status: "healthy"}
		}
	}

	if h.breaker != nil {
		state := "closed"
		if h.breaker.State() == monitor.BreakerOpen {
			state = "open"
		}
		status.Checks["pool_breaker"] = checkResult{Status: "healthy", Message: state}
	}

	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, code)
}

// Liveness handles GET /health/live
// Always returns 200 while the process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, map[string]string{"status": "alive"}, http.StatusOK)
}

// Readiness handles GET /health/ready
// Returns 200 when the service can serve traffic. The service is ready as
// long as at least one of cache or store is reachable, since resolution
// falls back between them.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	cacheOK := h.cache.Ping(ctx) == nil
	storeOK := h.database != nil && h.database.Ping(ctx) == nil

	if !cacheOK && !storeOK {
		h.writeJSON(w, map[string]string{"status": "not ready"}, http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (h *HealthHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode health response")
	}
}
