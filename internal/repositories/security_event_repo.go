package repositories

import (
	"context"
	"time"

	"github.com/darienwest/gatehouse/internal/database"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SecurityEventRepository persists durable audit records for security
// decisions. The table backs the audit trail when logs are unavailable and
// lets the notifier dedupe alerts.
type SecurityEventRepository struct {
	db *database.DB
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Record appends a security event. Failures here are non-fatal to callers:
// the log stream carries the same data.
func (r *SecurityEventRepository) Record(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, event_type, identifier, user_id, session_id, ip_address, reasons, risk_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		event.ID, event.EventType, event.Identifier, event.UserID, event.SessionID,
		event.IPAddress, pq.Array(event.Reasons), event.RiskScore, event.CreatedAt,
	)

	return err
}

// CountRecent returns how many events of a type were recorded for an
// identifier since the given time. Used to throttle repeat alerts.
func (r *SecurityEventRepository) CountRecent(ctx context.Context, eventType, identifier string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM security_events
		WHERE event_type = $1 AND identifier = $2 AND created_at >= $3
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, eventType, identifier, since).Scan(&count)
	return count, err
}

// ListRecent returns events since the given time, newest first
func (r *SecurityEventRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, identifier, user_id, session_id, ip_address, reasons, risk_score, created_at
		FROM security_events
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		var e models.SecurityEvent
		err := rows.Scan(
			&e.ID, &e.EventType, &e.Identifier, &e.UserID, &e.SessionID,
			&e.IPAddress, pq.Array(&e.Reasons), &e.RiskScore, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// DeleteOlderThan reclaims aged event rows during the background sweep
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM security_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
