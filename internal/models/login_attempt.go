package models

import "time"

// AttemptOutcome classifies the result of a single login attempt
type AttemptOutcome string

const (
	OutcomeSuccess            AttemptOutcome = "success"
	OutcomeInvalidCredentials AttemptOutcome = "invalid_credentials"
	OutcomeLocked             AttemptOutcome = "locked"
	OutcomeSystemError        AttemptOutcome = "system_error"
)

// Failed reports whether the outcome counts against lockout thresholds
func (o AttemptOutcome) Failed() bool {
	return o != OutcomeSuccess
}

// LoginAttempt represents a single login attempt in the system.
// Attempts are immutable once written; expiry is enforced by time-bounded
// queries, the background sweep only reclaims storage.
type LoginAttempt struct {
	ID                string         `db:"id"`
	Identifier        string         `db:"identifier"` // email or phone, not the internal user id
	IPAddress         string         `db:"ip_address"`
	UserAgent         string         `db:"user_agent"`
	DeviceFingerprint string         `db:"device_fingerprint"`
	Outcome           AttemptOutcome `db:"outcome"`
	AttemptTime       time.Time      `db:"attempt_time"`
	ExpiresAt         time.Time      `db:"expires_at"`
}
