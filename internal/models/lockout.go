package models

import "time"

// LockoutReason explains why a subject is denied
type LockoutReason string

const (
	LockoutTooManyAttempts   LockoutReason = "too_many_attempts"
	LockoutSuspiciousPattern LockoutReason = "suspicious_pattern"
	LockoutManual            LockoutReason = "manual"
)

// LockoutStatus is the verdict for a single subject (identifier or IP).
// It is derived from ledger state on every evaluation and never persisted:
// the lock exists exactly as long as the window contains enough failures.
type LockoutStatus struct {
	IsLocked      bool          `json:"is_locked"`
	Reason        LockoutReason `json:"reason,omitempty"`
	LockedAt      time.Time     `json:"locked_at,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at,omitempty"`
	RemainingTime time.Duration `json:"remaining_time,omitempty"`
}

// SuspicionReport is the heuristic verdict from pattern analysis.
// It never blocks by itself, only escalates CAPTCHA and logging.
type SuspicionReport struct {
	IsSuspicious bool     `json:"is_suspicious"`
	Reasons      []string `json:"reasons,omitempty"`
	RiskScore    int      `json:"risk_score"`
}

// SecurityContext carries the full evaluation result through the request
// chain. It replaces ad hoc per-request mutation with an explicit value.
type SecurityContext struct {
	Identifier        string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string

	Enabled         bool
	Lockout         LockoutStatus
	IPBlock         LockoutStatus
	Suspicion       SuspicionReport
	CaptchaRequired bool
	Delay           time.Duration
	EvaluatedAt     time.Time
}

// Denied reports whether the request must terminate before credential
// verification is attempted
func (sc *SecurityContext) Denied() bool {
	return sc.Lockout.IsLocked || sc.IPBlock.IsLocked
}
