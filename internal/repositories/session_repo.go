package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/darienwest/gatehouse/internal/database"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/jackc/pgx/v5"
)

// SessionRepository owns session records and remember-me token rows.
// All mutations are single statements so concurrent requests for the same
// session never race in application code.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// rowScanner interface for scanning session rows (single row or result set)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	var maxAgeSeconds int64

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.CreatedAt, &s.LastActivity, &s.ExpiresAt,
		&maxAgeSeconds, &s.LoginType, &s.SecurityLevel, &s.RememberMe,
		&s.DeviceFingerprint, &s.IPAddress, &s.UserAgent,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	s.MaxAge = time.Duration(maxAgeSeconds) * time.Second
	return &s, nil
}

const sessionColumns = `id, user_id, created_at, last_activity, expires_at, max_age_seconds, login_type, security_level, remember_me, device_fingerprint, ip_address, user_agent`

// Create persists a new session record
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.UserID, s.CreatedAt, s.LastActivity, s.ExpiresAt,
		int64(s.MaxAge/time.Second), s.LoginType, s.SecurityLevel, s.RememberMe,
		s.DeviceFingerprint, s.IPAddress, s.UserAgent,
	)

	return database.MapPostgresError(err)
}

// Get fetches a session by id. Returns models.ErrNotFound when absent.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.db.Pool.QueryRow(ctx, query, id))
}

// Touch extends a session's activity and expiry in one statement
func (r *SessionRepository) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	query := `UPDATE sessions SET last_activity = $2, expires_at = $3 WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, lastActivity, expiresAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetSecurityLevel raises or lowers a session's security level
func (r *SessionRepository) SetSecurityLevel(ctx context.Context, id string, level models.SecurityLevel) error {
	query := `UPDATE sessions SET security_level = $2 WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, id, level)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes a session. Deleting an absent session is a no-op; the
// boolean reports whether a row existed.
func (r *SessionRepository) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllForUser removes all of a user's sessions, optionally keeping one
// (the caller's own, for "sign out other devices"). Returns rows removed.
func (r *SessionRepository) DeleteAllForUser(ctx context.Context, userID, exceptID string) (int64, error) {
	var tag interface{ RowsAffected() int64 }
	var err error

	if exceptID == "" {
		tag, err = r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	} else {
		tag, err = r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1 AND id <> $2`, userID, exceptID)
	}
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ListByUser returns a user's active sessions, most recent activity first
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// DeleteExpiredSessions reclaims sessions past their expiry
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateRememberMeToken stores the hash of a newly minted remember-me token
func (r *SessionRepository) CreateRememberMeToken(ctx context.Context, t *models.RememberMeToken) error {
	query := `
		INSERT INTO remember_me_tokens (token_hash, user_id, session_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query, t.TokenHash, t.UserID, t.SessionID, t.CreatedAt, t.ExpiresAt)
	return database.MapPostgresError(err)
}

// GetRememberMeToken fetches a token record by hash
func (r *SessionRepository) GetRememberMeToken(ctx context.Context, tokenHash string) (*models.RememberMeToken, error) {
	query := `
		SELECT token_hash, user_id, session_id, created_at, expires_at, used_at
		FROM remember_me_tokens WHERE token_hash = $1
	`

	var t models.RememberMeToken
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(
		&t.TokenHash, &t.UserID, &t.SessionID, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return &t, nil
}

// ConsumeRememberMeToken marks a token used in one atomic statement.
// Returns false when the token was already used or is absent, so two
// concurrent refreshes cannot both succeed on the same token.
func (r *SessionRepository) ConsumeRememberMeToken(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error) {
	query := `
		UPDATE remember_me_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL
	`

	tag, err := r.db.Pool.Exec(ctx, query, tokenHash, usedAt)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteRememberMeTokensForUser revokes all of a user's remember-me tokens
func (r *SessionRepository) DeleteRememberMeTokensForUser(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM remember_me_tokens WHERE user_id = $1`, userID)
	return err
}

// DeleteExpiredRememberMeTokens reclaims used and expired token rows
func (r *SessionRepository) DeleteExpiredRememberMeTokens(ctx context.Context) (int64, error) {
	query := `DELETE FROM remember_me_tokens WHERE expires_at <= CURRENT_TIMESTAMP OR used_at IS NOT NULL`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
