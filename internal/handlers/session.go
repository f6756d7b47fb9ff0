// Package handlers provides HTTP handlers for the session service endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/constants"
	"github.com/teja230/storesight-sub006/internal/identity"
	"github.com/teja230/storesight-sub006/internal/middleware"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/session"
	"github.com/teja230/storesight-sub006/internal/token"
	"github.com/teja230/storesight-sub006/pkg/logger"
)

// SessionHandler handles login, session listing, termination, and heartbeat
// endpoints for the merchant dashboard.
type SessionHandler struct {
	exchanger identity.Exchanger
	limiter   *session.Limiter
	service   *session.Service
	updater   *session.Updater
	cookies   *token.CookieSigner
	config    *config.Config
	logger    *logrus.Logger
}

// NewSessionHandler creates a new session handler instance with the provided dependencies.
func NewSessionHandler(
	exchanger identity.Exchanger,
	limiter *session.Limiter,
	service *session.Service,
	updater *session.Updater,
	cookies *token.CookieSigner,
	cfg *config.Config,
	logger *logrus.Logger,
) *SessionHandler {
	return &SessionHandler{
		exchanger: exchanger,
		limiter:   limiter,
		service:   service,
		updater:   updater,
		cookies:   cookies,
		config:    cfg,
		logger:    logger,
	}
}

// RegisterPublicRoutes registers routes that do not require an authenticated
// session on the provided router.
func (h *SessionHandler) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.Login).Methods(http.MethodPost)
}

// RegisterRoutes registers session-management routes on the provided router.
// The router should already have the Authenticate middleware applied.
func (h *SessionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet)
	router.HandleFunc("/sessions/{sessionId}", h.TerminateSession).Methods(http.MethodDelete)
	router.HandleFunc("/heartbeat", h.Heartbeat).Methods(http.MethodPost)
}

// loginRequest is the JSON body accepted by the login endpoint.
type loginRequest struct {
	// Code is the authorization code returned by the identity provider.
	Code string `json:"code"`
}

// loginResponse is returned on successful login.
type loginResponse struct {
	SessionID       string   `json:"session_id"`
	ShopDomain      string   `json:"shop_domain"`
	ExpiresAt       string   `json:"expires_at"`
	EvictedSessions []string `json:"evicted_sessions,omitempty"`
}

// Login handles POST /login
// Exchanges an authorization code for an access token, creates a session
// under the per-shop concurrency limit, and sets the signed session cookie.
//
// Responses:
//   - 200: Session created, cookie set
//   - 400: Missing or malformed authorization code
//   - 401: Code exchange rejected by the identity provider
//   - 503: Session store unavailable
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.WithCorrelationID(ctx, h.logger)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		h.writeErrorResponse(w, "invalid_request", "authorization code is required", http.StatusBadRequest)
		return
	}

	accessToken, shopDomain, err := h.exchanger.ExchangeCode(ctx, req.Code)
	if err != nil {
		log.WithError(err).Warn("Authorization code exchange failed")
		h.writeErrorResponse(w, "invalid_grant", "authorization code exchange failed", http.StatusUnauthorized)
		return
	}

	device := models.DeviceInfo{
		UserAgent:  r.UserAgent(),
		RemoteAddr: clientAddr(r),
	}

	sess, evicted, err := h.limiter.CreateSession(ctx, shopDomain, accessToken, device)
	if err != nil {
		log.WithError(err).WithField("shop_domain", shopDomain).Error("Failed to create session")
		h.writeSessionError(w, err)
		return
	}

	cookieValue, err := h.cookies.Issue(sess.ID, shopDomain, sess.ExpiresAt)
	if err != nil {
		log.WithError(err).Error("Failed to sign session cookie")
		h.writeErrorResponse(w, "internal_server_error", "failed to establish session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     constants.SessionCookieName,
		Value:    cookieValue,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.Security.SecureCookies,
		SameSite: sameSiteMode(h.config.Security.SameSiteCookies),
	})

	log.WithFields(logrus.Fields{
		"shop_domain": shopDomain,
		"session_id":  sess.ID,
		"evicted":     len(evicted),
	}).Info("Session created")

	h.writeJSONResponse(w, loginResponse{
		SessionID:       sess.ID,
		ShopDomain:      shopDomain,
		ExpiresAt:       sess.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		EvictedSessions: evicted,
	}, http.StatusOK)
}

// ListSessions handles GET /sessions
// Returns all active sessions for the authenticated shop, with the caller's
// current session marked. Access tokens are never included.
//
// Responses:
//   - 200: Session list retrieved
//   - 401: Unauthenticated (handled by middleware)
//   - 503: Session store unavailable
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.PrincipalFromContext(ctx)
	if principal == nil {
		h.writeSessionError(w, models.ErrUnauthenticated)
		return
	}

	sessions, err := h.service.ListSessions(ctx, principal.ShopID, principal.SessionID)
	if err != nil {
		logger.WithCorrelationID(ctx, h.logger).WithError(err).Error("Failed to list sessions")
		h.writeSessionError(w, err)
		return
	}

	h.writeJSONResponse(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, http.StatusOK)
}

// TerminateSession handles DELETE /sessions/{sessionId}
// Terminates the identified session for the authenticated shop. Terminating
// the caller's own session requires the force query parameter.
//
// Query Parameters:
//   - force: Allow terminating the caller's own session (default: false)
//
// Responses:
//   - 204: Session terminated
//   - 404: Session not found for this shop
//   - 409: Attempted to terminate own session without force
//   - 503: Session store unavailable
func (h *SessionHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.PrincipalFromContext(ctx)
	if principal == nil {
		h.writeSessionError(w, models.ErrUnauthenticated)
		return
	}

	sessionID := mux.Vars(r)["sessionId"]
	force, _ := strconv.ParseBool(r.URL.Query().Get(constants.ParamForce))

	err := h.service.TerminateSession(ctx, principal.ShopID, sessionID, principal.SessionID, force)
	if err != nil {
		logger.WithCorrelationID(ctx, h.logger).WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"force":      force,
		}).Warn("Session termination failed")
		h.writeSessionError(w, err)
		return
	}

	// A forced self-termination also clears the cookie.
	if force && sessionID == principal.SessionID {
		http.SetCookie(w, &http.Cookie{
			Name:     constants.SessionCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.config.Security.SecureCookies,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles POST /heartbeat
// Schedules an asynchronous last-accessed update for the caller's session.
// Heartbeats are advisory: when the update queue is full the heartbeat is
// dropped and the endpoint still reports success.
//
// Responses:
//   - 202: Heartbeat accepted
//   - 401: Unauthenticated (handled by middleware)
func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		h.writeSessionError(w, models.ErrUnauthenticated)
		return
	}

	h.updater.ScheduleHeartbeat(principal.SessionID)
	w.WriteHeader(http.StatusAccepted)
}

// writeSessionError writes a categorized session error as a JSON response,
// mapping unknown errors to a generic 500 so store internals never leak.
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	var sessionErr *models.SessionError
	if errors.As(err, &sessionErr) {
		w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
		w.WriteHeader(sessionErr.StatusCode)
		_ = json.NewEncoder(w).Encode(sessionErr)
		return
	}
	h.writeErrorResponse(w, "internal_server_error", "an unexpected error occurred", http.StatusInternalServerError)
}

// writeErrorResponse writes a JSON error response with the given code and description.
func (h *SessionHandler) writeErrorResponse(w http.ResponseWriter, code, description string, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeJSONResponse writes a JSON response with the given status code.
func (h *SessionHandler) writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// sameSiteMode maps the configured SameSite string to the http constant.
func sameSiteMode(mode string) http.SameSite {
	switch mode {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// clientAddr extracts the client address used for device fingerprinting,
// preferring proxy-forwarded headers over the socket address.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
