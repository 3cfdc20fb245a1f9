package repositories

import (
	"context"
	"time"

	"github.com/darienwest/gatehouse/internal/database"
	"github.com/darienwest/gatehouse/internal/models"
)

// AttemptRepository is the attempt ledger: an append-only record of login
// attempts queried over rolling time windows. Expiry is enforced by the
// time bound on every query, so reads stay correct regardless of when the
// background sweep last ran.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record appends a login attempt. Attempts are never updated after insert;
// duplicate records for the same logical event only tighten policy.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (identifier, ip_address, user_agent, device_fingerprint, outcome, attempt_time, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.Identifier,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.DeviceFingerprint,
		attempt.Outcome,
		attempt.AttemptTime,
		attempt.ExpiresAt,
	)

	return err
}

// CountFailedByIdentifier returns the number of failed attempts for an
// identifier within the window starting at since
func (r *AttemptRepository) CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE identifier = $1 AND outcome <> 'success' AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, identifier, since).Scan(&count)
	return count, err
}

// CountFailedByIP returns the number of failed attempts from an IP within
// the window starting at since
func (r *AttemptRepository) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE ip_address = $1 AND outcome <> 'success' AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ip, since).Scan(&count)
	return count, err
}

// FailureTimesByIdentifier returns failure timestamps for an identifier,
// most recent first, capped at limit. Used to derive lock expiry: the lock
// ages out when the threshold-th most recent failure leaves the window.
func (r *AttemptRepository) FailureTimesByIdentifier(ctx context.Context, identifier string, since time.Time, limit int) ([]time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE identifier = $1 AND outcome <> 'success' AND attempt_time >= $2
		ORDER BY attempt_time DESC
		LIMIT $3
	`

	return r.queryTimes(ctx, query, identifier, since, limit)
}

// FailureTimesByIP returns failure timestamps for an IP, most recent first
func (r *AttemptRepository) FailureTimesByIP(ctx context.Context, ip string, since time.Time, limit int) ([]time.Time, error) {
	query := `
		SELECT attempt_time FROM login_attempts
		WHERE ip_address = $1 AND outcome <> 'success' AND attempt_time >= $2
		ORDER BY attempt_time DESC
		LIMIT $3
	`

	return r.queryTimes(ctx, query, ip, since, limit)
}

func (r *AttemptRepository) queryTimes(ctx context.Context, query, subject string, since time.Time, limit int) ([]time.Time, error) {
	rows, err := r.db.Pool.Query(ctx, query, subject, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	times := make([]time.Time, 0, limit)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}

	return times, rows.Err()
}

// RecentAttempts returns the ordered attempt list for an identifier within
// the window, oldest first, for pattern analysis
func (r *AttemptRepository) RecentAttempts(ctx context.Context, identifier string, since time.Time) ([]*models.LoginAttempt, error) {
	query := `
		SELECT id, identifier, ip_address, user_agent, device_fingerprint, outcome, attempt_time, expires_at
		FROM login_attempts
		WHERE identifier = $1 AND attempt_time >= $2
		ORDER BY attempt_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, identifier, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*models.LoginAttempt, 0)
	for rows.Next() {
		var a models.LoginAttempt
		err := rows.Scan(
			&a.ID, &a.Identifier, &a.IPAddress, &a.UserAgent,
			&a.DeviceFingerprint, &a.Outcome, &a.AttemptTime, &a.ExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

// ClearFailures removes failed-attempt history for an identifier and IP
// after a successful login, so legitimate recovery is immediate
func (r *AttemptRepository) ClearFailures(ctx context.Context, identifier, ip string) error {
	query := `
		DELETE FROM login_attempts
		WHERE outcome <> 'success' AND (identifier = $1 OR ip_address = $2)
	`

	_, err := r.db.Pool.Exec(ctx, query, identifier, ip)
	return err
}

// DeleteExpired reclaims storage for attempts past their expiry. This is an
// optimization for the background sweep, not a correctness requirement.
func (r *AttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM login_attempts WHERE expires_at <= CURRENT_TIMESTAMP`
	tag, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
