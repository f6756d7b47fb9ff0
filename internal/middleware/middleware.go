// Package middleware provides HTTP middleware components for the session
// service including authentication, rate limiting, CORS, logging, security
// headers, and request validation.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/teja230/storesight-sub006/internal/config"
	"github.com/teja230/storesight-sub006/internal/constants"
	"github.com/teja230/storesight-sub006/internal/models"
	"github.com/teja230/storesight-sub006/internal/monitor"
	"github.com/teja230/storesight-sub006/internal/session"
	"github.com/teja230/storesight-sub006/internal/token"
	"github.com/teja230/storesight-sub006/pkg/logger"
)

const (
	// HTTPClientError minimum status code (4xx).
	HTTPClientError = 400
	// HTTPServerError minimum status code (5xx).
	HTTPServerError = 500
)

// contextKey is an unexported type for keys stored in context to avoid collisions.
type contextKey string

// requestIDKey is the context key used to store the request ID.
const requestIDKey contextKey = "request_id"

// principalKey is the context key used to store the authenticated principal.
const principalKey contextKey = "principal"

// PrincipalFromContext returns the authenticated principal attached by the
// Authenticate middleware, or nil when the request is unauthenticated.
func PrincipalFromContext(ctx context.Context) *models.Principal {
	if p, ok := ctx.Value(principalKey).(*models.Principal); ok {
		return p
	}
	return nil
}

// ContextWithPrincipal returns a context carrying the given principal.
func ContextWithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Stack holds all middleware dependencies and provides
// methods to create HTTP middleware handlers.
type Stack struct {
	config   *config.Config
	resolver *session.Resolver
	cookies  *token.CookieSigner
	limiter  *redis_rate.Limiter
	metrics  *monitor.Metrics
	logger   *logrus.Logger
}

// NewStack creates a new middleware stack with the provided dependencies.
// The redisClient parameter is optional and only used for rate limiting.
// If nil, rate limiting will be disabled (useful for the memory-store
// fallback).
func NewStack(
	cfg *config.Config,
	resolver *session.Resolver,
	cookies *token.CookieSigner,
	redisClient *redis.Client,
	metrics *monitor.Metrics,
	logger *logrus.Logger,
) *Stack {
	var limiter *redis_rate.Limiter
	if redisClient != nil {
		limiter = redis_rate.NewLimiter(redisClient)
	}

	return &Stack{
		config:   cfg,
		resolver: resolver,
		cookies:  cookies,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
	}
}

// Chain applies multiple middleware functions to an HTTP handler.
func (m *Stack) Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := range middleware {
		h = middleware[len(middleware)-1-i](h)
	}
	return h
}

// Authenticate resolves the request's identity hints to a valid session and
// attaches the principal to the request context. Unauthenticated requests
// receive a 401 JSON response; store outages fail closed with the error's
// own status. Store internals are never leaked to clients.
func (m *Stack) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hints := m.ExtractHints(r)

		entry, err := m.resolver.Resolve(r.Context(), hints)
		if err != nil {
			logger.WithCorrelationID(r.Context(), m.logger).
				WithError(err).
				WithField("path", r.URL.Path).
				Debug("Request authentication failed")
			writeSessionError(w, err)
			return
		}

		principal := &models.Principal{
			ShopID:      entry.ShopID,
			ShopDomain:  entry.ShopDomain,
			SessionID:   entry.SessionID,
			AccessToken: entry.AccessToken,
		}

		ctx := ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractHints builds the resolver's identity hints from the request, in
// precedence order: signed session cookie, shop query parameter or header,
// stored session attribute header, then the Referer header.
func (m *Stack) ExtractHints(r *http.Request) models.IdentityHints {
	hints := models.IdentityHints{
		Referrer: r.Header.Get(constants.HeaderReferer),
	}

	if cookie, err := r.Cookie(constants.SessionCookieName); err == nil {
		if sessionID, shopDomain, parseErr := m.cookies.Parse(cookie.Value); parseErr == nil {
			hints.SessionID = sessionID
			hints.ShopDomain = shopDomain
		}
	}

	if shop := r.URL.Query().Get(constants.ParamShop); shop != "" {
		hints.ShopDomain = shop
	} else if shop := r.Header.Get(constants.HeaderXShopDomain); shop != "" {
		hints.ShopDomain = shop
	}

	// A previously stored session attribute arrives as a bearer value.
	if auth := r.Header.Get(constants.HeaderAuthorization); strings.HasPrefix(auth, "Session ") {
		hints.StoredSessionID = strings.TrimPrefix(auth, "Session ")
	}

	return hints
}

// RequestLogger logs HTTP requests with structured logging including
// request details, response status, and processing duration.
func (m *Stack) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Generate request ID and store it in the typed context key
		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = logger.SetCorrelationID(ctx, requestID)
		r = r.WithContext(ctx)

		// Wrap response writer to capture the status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Add request ID to response headers
		wrapped.Header().Set(constants.HeaderXRequestID, requestID)

		// Process request
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		m.metrics.HTTPRequestsTotal.
			WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())

		// Skip logging for health check endpoints
		if strings.HasPrefix(r.URL.Path, "/api/v1/session/health") {
			return
		}

		logEntry := logger.WithCorrelationID(r.Context(), m.logger)
		fields := logrus.Fields{
			"method":         r.Method,
			"path":           r.URL.Path,
			"status":         wrapped.statusCode,
			"duration":       duration.String(),
			"duration_ms":    duration.Milliseconds(),
			"remote_addr":    getClientIP(r),
			"user_agent":     r.UserAgent(),
			"content_length": r.ContentLength,
		}

		if referer := r.Header.Get(constants.HeaderReferer); referer != "" {
			fields["referer"] = referer
		}

		level := logrus.InfoLevel
		if wrapped.statusCode >= HTTPClientError {
			level = logrus.WarnLevel
		}
		if wrapped.statusCode >= HTTPServerError {
			level = logrus.ErrorLevel
		}

		logEntry.WithFields(fields).Log(level, "HTTP request processed")
	})
}

// RateLimit implements Redis-based rate limiting per client IP address.
// It uses a token bucket algorithm with configurable requests per second and burst limits.
func (m *Stack) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := getClientIP(r)

		// If limiter is not available (e.g., using MemoryStore), allow request
		if m.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		rateLimitKey := "session:ratelimit:client:" + clientIP

		result, err := m.limiter.Allow(ctx, rateLimitKey, redis_rate.Limit{
			Rate:   m.config.Security.RateLimitRPS,
			Burst:  m.config.Security.RateLimitBurst,
			Period: time.Second,
		})
		if err != nil {
			m.logger.WithError(err).Error("Failed to check rate limit")
			// Allow request on error to avoid blocking legitimate traffic
			next.ServeHTTP(w, r)
			return
		}

		// Set rate limit headers
		w.Header().Set("X-Ratelimit-Limit", strconv.Itoa(result.Limit.Burst))
		w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))

		if result.Allowed == 0 {
			m.logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"path":      r.URL.Path,
				"method":    r.Method,
			}).Warn("Rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORS handles Cross-Origin Resource Sharing headers based on configuration.
func (m *Stack) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.setCORSHeaders(w, r)

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets the CORS headers based on the configured security settings.
func (m *Stack) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	if origin != "" && m.isOriginAllowed(origin) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else if len(m.config.Security.AllowedOrigins) == 1 && m.config.Security.AllowedOrigins[0] == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	if len(m.config.Security.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(m.config.Security.AllowedMethods, ", "))
	}

	if len(m.config.Security.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(m.config.Security.AllowedHeaders, ", "))
	}

	if m.config.Security.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

// SecurityHeaders adds security-related HTTP headers to responses.
func (m *Stack) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS header for HTTPS
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// Recovery recovers from panics and logs them while returning a proper error response.
func (m *Stack) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logEntry := logger.WithCorrelationID(r.Context(), m.logger)

				logEntry.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  err,
				}).Error("Panic recovered")

				// Return generic error to client
				w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(
					`{"error": "internal_server_error", ` +
						`"error_description": "An unexpected error occurred"}`,
				))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ContentType validates Content-Type headers for POST requests.
func (m *Stack) ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only validate Content-Type for POST requests with body
		if r.Method == http.MethodPost && r.ContentLength > 0 {
			contentType := r.Header.Get(constants.HeaderContentType)

			isForm := strings.Contains(contentType, constants.ContentTypeFormURLEncoded)
			isJSON := strings.Contains(contentType, constants.ContentTypeJSON)
			if !isForm && !isJSON {
				w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
				w.WriteHeader(http.StatusUnsupportedMediaType)
				body := `{"error": "unsupported_media_type", ` +
					`"error_description": "Content-Type must be application/x-www-form-urlencoded or application/json"}`
				_, _ = w.Write([]byte(body))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// writeSessionError writes a categorized session error as a JSON response.
// Unknown errors are reported as a generic unauthenticated rejection so a
// raw store failure never reaches the client.
func writeSessionError(w http.ResponseWriter, err error) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)

	var sessionErr *models.SessionError
	if !errors.As(err, &sessionErr) {
		sessionErr = models.ErrUnauthenticated
	}

	w.WriteHeader(sessionErr.StatusCode)
	_ = json.NewEncoder(w).Encode(sessionErr)
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getClientIP extracts the real client IP address from various headers.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (load balancers, proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Check X-Real-IP header (nginx, some proxies)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	return strings.Split(r.RemoteAddr, ":")[0]
}

// isOriginAllowed checks if an origin is allowed for CORS.
func (m *Stack) isOriginAllowed(origin string) bool {
	for _, allowedOrigin := range m.config.Security.AllowedOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			return true
		}
	}
	return false
}
