package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teja230/storesight-sub006/internal/models"
)

// PoolGetter is a function that returns the current database connection pool.
type PoolGetter func() *pgxpool.Pool

// sessionColumns is the select list shared by all session queries.
const sessionColumns = `s.session_id, s.shop_id, p.shop_domain, s.access_token,
	s.device_fingerprint, s.device_description, s.created_at, s.last_accessed_at, s.expires_at, s.active`

// PostgresSessionRepository implements SessionRepository for PostgreSQL.
type PostgresSessionRepository struct {
	getPool PoolGetter
}

// NewPostgresSessionRepository creates a new PostgreSQL session repository.
// The poolGetter function allows the repository to always use the current
// active connection pool, supporting automatic reconnection.
func NewPostgresSessionRepository(poolGetter PoolGetter) *PostgresSessionRepository {
	return &PostgresSessionRepository{
		getPool: poolGetter,
	}
}

// pool returns the current connection pool or a store-unavailable error.
func (r *PostgresSessionRepository) pool() (*pgxpool.Pool, error) {
	pool := r.getPool()
	if pool == nil {
		return nil, models.NewStoreUnavailable(errors.New("database connection not available"))
	}
	return pool, nil
}

// UpsertShop creates the shop for a domain if absent and returns it.
func (r *PostgresSessionRepository) UpsertShop(ctx context.Context, domain string) (*models.Shop, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO shops (shop_id, shop_domain, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (shop_domain) DO UPDATE SET shop_domain = EXCLUDED.shop_domain
		RETURNING shop_id, shop_domain, created_at`

	shop := &models.Shop{}
	row := pool.QueryRow(ctx, query, uuid.NewString(), domain, time.Now().UTC())
	if scanErr := row.Scan(&shop.ID, &shop.Domain, &shop.CreatedAt); scanErr != nil {
		return nil, fmt.Errorf("failed to upsert shop: %w", scanErr)
	}

	return shop, nil
}

// GetShopByDomain returns the shop with the given domain.
func (r *PostgresSessionRepository) GetShopByDomain(ctx context.Context, domain string) (*models.Shop, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `SELECT shop_id, shop_domain, created_at FROM shops WHERE shop_domain = $1`

	shop := &models.Shop{}
	row := pool.QueryRow(ctx, query, domain)
	if scanErr := row.Scan(&shop.ID, &shop.Domain, &shop.CreatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound.WithDescription("shop not found")
		}
		return nil, fmt.Errorf("failed to get shop: %w", scanErr)
	}

	return shop, nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error or panic.
func (r *PostgresSessionRepository) WithTx(ctx context.Context, fn func(tx SessionTx) error) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return models.NewStoreUnavailable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		// Rollback is a no-op after a successful commit.
		_ = tx.Rollback(ctx)
	}()

	if fnErr := fn(&postgresSessionTx{tx: tx}); fnErr != nil {
		return fnErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return models.NewStoreUnavailable(fmt.Errorf("failed to commit transaction: %w", commitErr))
	}

	return nil
}

// GetActiveSession returns the session with the given id if it is active and
// not expired.
func (r *PostgresSessionRepository) GetActiveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN shops p ON p.shop_id = s.shop_id
		WHERE s.session_id = $1 AND s.active AND s.expires_at > now()`

	return scanSession(pool.QueryRow(ctx, query, sessionID))
}

// LatestActiveSessionForShop returns the shop's most recently accessed
// active, non-expired session.
func (r *PostgresSessionRepository) LatestActiveSessionForShop(
	ctx context.Context,
	shopDomain string,
) (*models.Session, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN shops p ON p.shop_id = s.shop_id
		WHERE p.shop_domain = $1 AND s.active AND s.expires_at > now()
		ORDER BY s.last_accessed_at DESC
		LIMIT 1`

	return scanSession(pool.QueryRow(ctx, query, shopDomain))
}

// ListActiveByShop returns all active, non-expired sessions for a shop
// ordered by last_accessed_at descending.
func (r *PostgresSessionRepository) ListActiveByShop(ctx context.Context, shopID string) ([]*models.Session, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN shops p ON p.shop_id = s.shop_id
		WHERE s.shop_id = $1 AND s.active AND s.expires_at > now()
		ORDER BY s.last_accessed_at DESC`

	rows, err := pool.Query(ctx, query, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// TouchSession updates a session's last_accessed_at timestamp.
func (r *PostgresSessionRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	// Guarded so a delayed heartbeat never rewinds a fresher timestamp.
	query := `UPDATE sessions SET last_accessed_at = $2 WHERE session_id = $1 AND last_accessed_at < $2`

	if _, execErr := pool.Exec(ctx, query, sessionID, at); execErr != nil {
		return fmt.Errorf("failed to touch session: %w", execErr)
	}
	return nil
}

// UpdateToken replaces the session's access token and extends its expiry.
func (r *PostgresSessionRepository) UpdateToken(
	ctx context.Context,
	sessionID, accessToken string,
	expiresAt time.Time,
) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	query := `UPDATE sessions SET access_token = $2, expires_at = $3 WHERE session_id = $1 AND active`

	tag, execErr := pool.Exec(ctx, query, sessionID, accessToken, expiresAt)
	if execErr != nil {
		return fmt.Errorf("failed to update token: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeactivateSession marks one session inactive.
func (r *PostgresSessionRepository) DeactivateSession(ctx context.Context, sessionID string) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	query := `UPDATE sessions SET active = FALSE WHERE session_id = $1`

	if _, execErr := pool.Exec(ctx, query, sessionID); execErr != nil {
		return fmt.Errorf("failed to deactivate session: %w", execErr)
	}
	return nil
}

// TerminateSession marks a session inactive if it belongs to the given shop.
func (r *PostgresSessionRepository) TerminateSession(ctx context.Context, shopID, sessionID string) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	query := `UPDATE sessions SET active = FALSE WHERE session_id = $1 AND shop_id = $2 AND active`

	tag, execErr := pool.Exec(ctx, query, sessionID, shopID)
	if execErr != nil {
		return fmt.Errorf("failed to terminate session: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired hard-deletes sessions whose expiry is before the cutoff.
func (r *PostgresSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	pool, err := r.pool()
	if err != nil {
		return 0, err
	}

	query := `DELETE FROM sessions WHERE expires_at < $1`

	tag, execErr := pool.Exec(ctx, query, before)
	if execErr != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// MarkInactiveStale marks active sessions inactive when their last access is
// older than the cutoff but they have not yet expired.
func (r *PostgresSessionRepository) MarkInactiveStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE sessions SET active = FALSE
		WHERE active AND expires_at > now() AND last_accessed_at < $1
		RETURNING session_id`

	rows, queryErr := pool.Query(ctx, query, cutoff)
	if queryErr != nil {
		return nil, fmt.Errorf("failed to mark stale sessions: %w", queryErr)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("failed to scan stale session id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to read stale session ids: %w", rowsErr)
	}

	return ids, nil
}

// DeleteOrphanSessions deletes sessions whose owning shop no longer exists.
// The foreign key normally makes this impossible; the sweep covers rows
// predating the constraint.
func (r *PostgresSessionRepository) DeleteOrphanSessions(ctx context.Context) (int64, error) {
	pool, err := r.pool()
	if err != nil {
		return 0, err
	}

	query := `
		DELETE FROM sessions s
		WHERE NOT EXISTS (SELECT 1 FROM shops p WHERE p.shop_id = s.shop_id)`

	tag, execErr := pool.Exec(ctx, query)
	if execErr != nil {
		return 0, fmt.Errorf("failed to delete orphan sessions: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// postgresSessionTx implements SessionTx over a live pgx transaction.
type postgresSessionTx struct {
	tx pgx.Tx
}

// ActiveSessionsForUpdate loads all active, non-expired sessions for a shop
// ordered by last_accessed_at ascending, locking the rows.
func (t *postgresSessionTx) ActiveSessionsForUpdate(ctx context.Context, shopID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN shops p ON p.shop_id = s.shop_id
		WHERE s.shop_id = $1 AND s.active AND s.expires_at > now()
		ORDER BY s.last_accessed_at ASC
		FOR UPDATE OF s`

	rows, err := t.tx.Query(ctx, query, shopID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock active sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// FindActiveByFingerprint returns the shop's active session matching the
// device fingerprint.
func (t *postgresSessionTx) FindActiveByFingerprint(
	ctx context.Context,
	shopID, fingerprint string,
) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions s
		JOIN shops p ON p.shop_id = s.shop_id
		WHERE s.shop_id = $1 AND s.device_fingerprint = $2 AND s.active AND s.expires_at > now()
		ORDER BY s.last_accessed_at DESC
		LIMIT 1
		FOR UPDATE OF s`

	return scanSession(t.tx.QueryRow(ctx, query, shopID, fingerprint))
}

// InsertSession persists a new session.
func (t *postgresSessionTx) InsertSession(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions
		(session_id, shop_id, access_token, device_fingerprint, device_description,
		 created_at, last_accessed_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.Exec(ctx, query,
		session.ID,
		session.ShopID,
		session.AccessToken,
		session.DeviceFingerprint,
		session.DeviceDescription,
		session.CreatedAt,
		session.LastAccessedAt,
		session.ExpiresAt,
		session.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RefreshSession updates an existing session's token, expiry, and
// last-accessed timestamp in place.
func (t *postgresSessionTx) RefreshSession(
	ctx context.Context,
	sessionID, accessToken string,
	expiresAt, lastAccessed time.Time,
) error {
	query := `
		UPDATE sessions
		SET access_token = $2, expires_at = $3, last_accessed_at = $4
		WHERE session_id = $1`

	tag, err := t.tx.Exec(ctx, query, sessionID, accessToken, expiresAt, lastAccessed)
	if err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeactivateSessions marks the given sessions inactive.
func (t *postgresSessionTx) DeactivateSessions(ctx context.Context, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}

	query := `UPDATE sessions SET active = FALSE WHERE session_id = ANY($1)`

	if _, err := t.tx.Exec(ctx, query, sessionIDs); err != nil {
		return fmt.Errorf("failed to deactivate sessions: %w", err)
	}
	return nil
}

// scanSession scans one session row, mapping pgx.ErrNoRows to
// models.ErrSessionNotFound.
func scanSession(row pgx.Row) (*models.Session, error) {
	session := &models.Session{}
	err := row.Scan(
		&session.ID,
		&session.ShopID,
		&session.ShopDomain,
		&session.AccessToken,
		&session.DeviceFingerprint,
		&session.DeviceDescription,
		&session.CreatedAt,
		&session.LastAccessedAt,
		&session.ExpiresAt,
		&session.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return session, nil
}

// collectSessions scans all session rows from a query result.
func collectSessions(rows pgx.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		err := rows.Scan(
			&session.ID,
			&session.ShopID,
			&session.ShopDomain,
			&session.AccessToken,
			&session.DeviceFingerprint,
			&session.DeviceDescription,
			&session.CreatedAt,
			&session.LastAccessedAt,
			&session.ExpiresAt,
			&session.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return sessions, nil
}
