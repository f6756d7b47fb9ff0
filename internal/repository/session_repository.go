// Package repository provides persistence for shops and sessions. The
// relational store is the source of truth for the session lifecycle; the
// cache layer only ever holds re-creatable projections of it.
package repository

import (
	"context"
	"time"

	"github.com/teja230/storesight-sub006/internal/models"
)

// SessionTx exposes the operations available inside a session transaction.
// The limiter runs its read-evict-create sequence through one SessionTx so
// the whole operation commits or rolls back as a unit.
type SessionTx interface {
	// ActiveSessionsForUpdate loads all active, non-expired sessions for a
	// shop ordered by last_accessed_at ascending, locking the rows for the
	// duration of the transaction.
	ActiveSessionsForUpdate(ctx context.Context, shopID string) ([]*models.Session, error)

	// FindActiveByFingerprint returns the shop's active, non-expired session
	// matching the device fingerprint, or ErrSessionNotFound.
	FindActiveByFingerprint(ctx context.Context, shopID, fingerprint string) (*models.Session, error)

	// InsertSession persists a new session.
	InsertSession(ctx context.Context, session *models.Session) error

	// RefreshSession updates an existing session's token, expiry, and
	// last-accessed timestamp in place (idempotent re-login).
	RefreshSession(ctx context.Context, sessionID, accessToken string, expiresAt, lastAccessed time.Time) error

	// DeactivateSessions marks the given sessions inactive.
	DeactivateSessions(ctx context.Context, sessionIDs []string) error
}

// SessionRepository defines persistence operations for shops and sessions.
// Every method is context-aware; implementations must be safe for concurrent
// use. Methods that find nothing return models.ErrSessionNotFound rather than
// a nil result.
type SessionRepository interface {
	// UpsertShop creates the shop for a domain if absent and returns it.
	UpsertShop(ctx context.Context, domain string) (*models.Shop, error)

	// GetShopByDomain returns the shop with the given domain.
	GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error)

	// WithTx runs fn inside a transaction. Any error from fn rolls the
	// transaction back; a nil return commits it.
	WithTx(ctx context.Context, fn func(tx SessionTx) error) error

	// GetActiveSession returns the session with the given id if it is
	// active and not expired.
	GetActiveSession(ctx context.Context, sessionID string) (*models.Session, error)

	// LatestActiveSessionForShop returns the shop's most recently accessed
	// active, non-expired session.
	LatestActiveSessionForShop(ctx context.Context, shopDomain string) (*models.Session, error)

	// ListActiveByShop returns all active, non-expired sessions for a shop
	// ordered by last_accessed_at descending.
	ListActiveByShop(ctx context.Context, shopID string) ([]*models.Session, error)

	// TouchSession updates a session's last_accessed_at timestamp.
	// Last write wins; a delayed heartbeat may be silently superseded.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// UpdateToken replaces a session's access token and extends its expiry.
	UpdateToken(ctx context.Context, sessionID, accessToken string, expiresAt time.Time) error

	// DeactivateSession marks one session inactive.
	DeactivateSession(ctx context.Context, sessionID string) error

	// TerminateSession marks a session inactive if it belongs to the given
	// shop. Returns models.ErrSessionNotFound when no such active session
	// exists.
	TerminateSession(ctx context.Context, shopID, sessionID string) error

	// DeleteExpired hard-deletes sessions whose expiry is before the cutoff.
	// Returns the number of deleted rows.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// MarkInactiveStale marks active sessions inactive when their last
	// access is older than the cutoff but they have not yet expired.
	// Returns the affected session ids so callers can evict cache entries.
	MarkInactiveStale(ctx context.Context, cutoff time.Time) ([]string, error)

	// DeleteOrphanSessions deletes sessions whose owning shop no longer
	// exists. Returns the number of deleted rows.
	DeleteOrphanSessions(ctx context.Context) (int64, error)
}
