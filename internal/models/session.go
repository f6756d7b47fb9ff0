// Package models defines the core data structures for the session service:
// shops, per-device sessions, cached session projections, pool health
// snapshots, and the error taxonomy shared across components.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
	"unicode/utf8"
)

// Shop represents a tenant identity (one merchant account). A shop is created
// on first successful authorization and owns zero or more sessions. Shops are
// never hard-deleted while referenced by historical records.
type Shop struct {
	// ID is the stable unique identifier for the shop.
	ID string `json:"id"`
	// Domain is the shop's unique domain identifier (e.g. "acme.myshop.io").
	Domain string `json:"domain"`
	// CreatedAt is when the shop was first authorized.
	CreatedAt time.Time `json:"created_at"`
}

// Session represents one authenticated device/browser context for a shop.
//
// Invariant: for a given shop, the number of sessions with Active set and
// ExpiresAt in the future never exceeds the configured per-shop maximum.
type Session struct {
	// ID is the opaque unique session identifier.
	ID string `json:"id"`
	// ShopID references the owning shop.
	ShopID string `json:"shop_id"`
	// ShopDomain is the owning shop's domain, denormalized for cache writes.
	ShopDomain string `json:"shop_domain"`
	// AccessToken is the provider access token. Store-only secret: it is
	// excluded from JSON serialization and must never be logged.
	AccessToken string `json:"-"`
	// DeviceFingerprint is a hash of user-agent and source address.
	// Advisory only; used for idempotent re-login detection.
	DeviceFingerprint string `json:"device_fingerprint"`
	// DeviceDescription is a human-readable device summary for the
	// session-management UI.
	DeviceDescription string `json:"device_description"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`
	// LastAccessedAt is updated by every heartbeat.
	LastAccessedAt time.Time `json:"last_accessed_at"`
	// ExpiresAt is when the session expires.
	ExpiresAt time.Time `json:"expires_at"`
	// Active indicates the session has not been terminated, evicted, or reaped.
	Active bool `json:"active"`
}

// IsValid reports whether the session is active and not expired at the given
// instant. This predicate is shared by the resolver, limiter, and reaper so
// all components agree on which sessions count as live.
func (s *Session) IsValid(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

// DeviceInfo captures the advisory device signals presented at login.
type DeviceInfo struct {
	// UserAgent is the client's User-Agent header value.
	UserAgent string
	// RemoteAddr is the client's source address.
	RemoteAddr string
}

// Fingerprint derives the session's device fingerprint from the user-agent
// and source address. The hash is advisory: it dedupes repeat logins from the
// same device but carries no security weight.
func (d DeviceInfo) Fingerprint() string {
	sum := sha256.Sum256([]byte(d.UserAgent + "|" + d.RemoteAddr))
	return hex.EncodeToString(sum[:])
}

// Description returns a short human-readable device summary for session
// listings. The full user-agent is truncated to keep listings compact.
func (d DeviceInfo) Description() string {
	const maxLen = 120
	ua := d.UserAgent
	if ua == "" {
		ua = "unknown device"
	}
	if len(ua) > maxLen {
		// Back up to a rune boundary so the cut never emits invalid UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(ua[cut]) {
			cut--
		}
		ua = ua[:cut]
	}
	return ua
}

// CacheEntry is the ephemeral cached projection of (shop, session) → token.
// It is never authoritative: absence does not imply the session does not
// exist, and a stale entry must never be trusted past its TTL.
type CacheEntry struct {
	// SessionID is the owning session's identifier and the cache key.
	SessionID string `json:"session_id"`
	// ShopID references the owning shop.
	ShopID string `json:"shop_id"`
	// ShopDomain is the owning shop's domain.
	ShopDomain string `json:"shop_domain"`
	// AccessToken is the provider access token.
	AccessToken string `json:"access_token"`
	// SessionExpiresAt mirrors the session's expiry at write time.
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

// IdentityHints carries the identity signals extracted from a request, in
// resolution precedence order: explicit session identifier first, then the
// shop-domain parameter, then a previously stored session attribute, and
// finally a referrer-derived domain.
type IdentityHints struct {
	// SessionID is the explicit session identifier from the session cookie.
	SessionID string
	// ShopDomain is the shop-domain query parameter or header value.
	ShopDomain string
	// StoredSessionID is a session identifier from a previously stored
	// client-side attribute.
	StoredSessionID string
	// Referrer is the raw Referer header, from which a shop domain may be
	// derived as a last resort.
	Referrer string
}

// Principal is the authenticated identity attached to a request after
// successful resolution.
type Principal struct {
	// ShopID is the authenticated shop's identifier.
	ShopID string `json:"shop_id"`
	// ShopDomain is the authenticated shop's domain.
	ShopDomain string `json:"shop_domain"`
	// SessionID is the resolved session identifier.
	SessionID string `json:"session_id"`
	// AccessToken is the resolved access token. Never serialized.
	AccessToken string `json:"-"`
}

// SessionSummary is the session-management API projection of a session,
// exposed to the dashboard UI. It never carries the access token.
type SessionSummary struct {
	ID                string    `json:"id"`
	DeviceDescription string    `json:"device_description"`
	CreatedAt         time.Time `json:"created_at"`
	LastAccessedAt    time.Time `json:"last_accessed_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	IsCurrent         bool      `json:"is_current"`
}

// PoolHealthSnapshot is a point-in-time read of the relational store's
// connection pool. Produced each monitoring tick and consumed to update the
// circuit breaker; never persisted.
type PoolHealthSnapshot struct {
	// AcquiredConns is the number of connections currently checked out.
	AcquiredConns int32
	// IdleConns is the number of idle connections in the pool.
	IdleConns int32
	// TotalConns is the total number of open connections.
	TotalConns int32
	// MaxConns is the pool's configured maximum.
	MaxConns int32
	// WaitingAcquires is the number of acquire attempts observed waiting on
	// an empty pool since the previous snapshot.
	WaitingAcquires int64
	// TakenAt is when the snapshot was read.
	TakenAt time.Time
}

// Utilization returns the acquired/max connection ratio.
// Returns 0 when the pool maximum is unknown.
func (s PoolHealthSnapshot) Utilization() float64 {
	if s.MaxConns <= 0 {
		return 0
	}
	return float64(s.AcquiredConns) / float64(s.MaxConns)
}
