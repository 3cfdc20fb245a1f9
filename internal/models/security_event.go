package models

import "time"

// SecurityEvent is a durable audit record for security-relevant decisions:
// lockouts, fail-open degradations, fingerprint drift, session destruction.
// The log stream carries the same data; this table survives log loss.
type SecurityEvent struct {
	ID         string    `db:"id"`
	EventType  string    `db:"event_type"`
	Identifier string    `db:"identifier"`
	UserID     string    `db:"user_id"`
	SessionID  string    `db:"session_id"`
	IPAddress  string    `db:"ip_address"`
	Reasons    []string  `db:"reasons"`
	RiskScore  int       `db:"risk_score"`
	CreatedAt  time.Time `db:"created_at"`
}

// Security event types
const (
	EventLockout          = "lockout"
	EventIPBlock          = "ip_block"
	EventSuspicious       = "suspicious_activity"
	EventCaptchaEscalated = "captcha_escalated"
	EventFailOpen         = "security_check_fail_open"
	EventFingerprintDrift = "fingerprint_drift"
	EventSessionExpired   = "session_expired"
	EventSessionDestroyed = "session_destroyed"
	EventSessionElevated  = "session_elevated"
)
