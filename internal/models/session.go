package models

import "time"

// LoginType records how a session was established
type LoginType string

const (
	LoginTypePassword LoginType = "password"
	LoginTypeSocial   LoginType = "social"
	LoginTypeOTP      LoginType = "otp"
)

// SecurityLevel is an ordered session attribute used to gate sensitive
// operations independent of basic validity: low < standard < high
type SecurityLevel string

const (
	SecurityLevelLow      SecurityLevel = "low"
	SecurityLevelStandard SecurityLevel = "standard"
	SecurityLevelHigh     SecurityLevel = "high"
)

var securityLevelRank = map[SecurityLevel]int{
	SecurityLevelLow:      0,
	SecurityLevelStandard: 1,
	SecurityLevelHigh:     2,
}

// AtLeast compares two levels on the ordered scale. Unknown levels rank
// below low so a corrupted value can never satisfy a floor.
func (l SecurityLevel) AtLeast(min SecurityLevel) bool {
	lr, ok := securityLevelRank[l]
	if !ok {
		return false
	}
	mr, ok := securityLevelRank[min]
	if !ok {
		return false
	}
	return lr >= mr
}

// Valid reports whether the level is one of the known values
func (l SecurityLevel) Valid() bool {
	_, ok := securityLevelRank[l]
	return ok
}

// Session is an authenticated session record, owned exclusively by the
// session store. LastActivity and ExpiresAt are the only mutable fields.
type Session struct {
	ID                string        `db:"id"` // opaque unguessable token
	UserID            string        `db:"user_id"`
	CreatedAt         time.Time     `db:"created_at"`
	LastActivity      time.Time     `db:"last_activity"`
	ExpiresAt         time.Time     `db:"expires_at"`
	MaxAge            time.Duration `db:"max_age"`
	LoginType         LoginType     `db:"login_type"`
	SecurityLevel     SecurityLevel `db:"security_level"`
	RememberMe        bool          `db:"remember_me"`
	DeviceFingerprint string        `db:"device_fingerprint"`
	IPAddress         string        `db:"ip_address"`
	UserAgent         string        `db:"user_agent"`
}

// Expired reports whether the session has passed its expiry at the given time
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RememberMeToken is a secondary long-lived credential used only to mint a
// new session via refresh; it never extends an existing session directly.
// Only the SHA-256 hash of the presented token is ever stored.
type RememberMeToken struct {
	TokenHash string     `db:"token_hash"`
	UserID    string     `db:"user_id"`
	SessionID string     `db:"session_id"` // lineage: the session this token was minted with
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"`
}

// ValidationResult is the outcome of validating a session id
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reason  string   `json:"reason,omitempty"`
	Session *Session `json:"-"`
}

// Validation failure reason codes. Expired and destroyed sessions are not
// distinguished here; the distinction lives in the audit trail.
const (
	ValidationReasonNotFound         = "not_found"
	ValidationReasonExpired          = "expired"
	ValidationReasonFingerprintDrift = "fingerprint_mismatch"
	ValidationReasonStale            = "stale"
	ValidationReasonLowSecurity      = "insufficient_security_level"
)
