package services

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/models"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// AttemptLedger defines the attempt-ledger operations the evaluator reads
type AttemptLedger interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error)
	CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error)
	FailureTimesByIdentifier(ctx context.Context, identifier string, since time.Time, limit int) ([]time.Time, error)
	FailureTimesByIP(ctx context.Context, ip string, since time.Time, limit int) ([]time.Time, error)
	RecentAttempts(ctx context.Context, identifier string, since time.Time) ([]*models.LoginAttempt, error)
	ClearFailures(ctx context.Context, identifier, ip string) error
}

// SecurityEventRecorder persists durable audit rows for security decisions
type SecurityEventRecorder interface {
	Record(ctx context.Context, event *models.SecurityEvent) error
}

// Known disposable/abuse email domains checked during pattern analysis
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"yopmail.com":       true,
	"trashmail.com":     true,
	"sharklasers.com":   true,
}

// Suspicion risk weights. Individually below the default threshold so a
// single signal never flags on its own.
const (
	riskVelocity    = 40
	riskFingerprint = 30
	riskDisposable  = 20
	riskUnknownIP   = 15
)

// LockoutService is the lockout evaluator: pure decision logic over attempt
// ledger snapshots. A lock is never written anywhere - it exists exactly as
// long as the rolling window contains enough failures, and ages out
// organically as failures leave the window.
//
// Every check independently fails open on a storage error: an unavailable
// ledger must never itself become a denial of service against legitimate
// users. Each fail-open decision is logged at audit level.
type LockoutService struct {
	ledger AttemptLedger
	events SecurityEventRecorder
	config config.SecurityConfig
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
	now    func() time.Time
}

// NewLockoutService creates a new LockoutService
func NewLockoutService(ledger AttemptLedger, events SecurityEventRecorder, cfg config.SecurityConfig, logger *slog.Logger, audit *pkglogger.AuditLogger) *LockoutService {
	return &LockoutService{
		ledger: ledger,
		events: events,
		config: cfg,
		logger: logger,
		audit:  audit,
		now:    time.Now,
	}
}

// IsUserLockedOut reports whether the identifier has accumulated enough
// failures within the rolling window to be denied
func (s *LockoutService) IsUserLockedOut(ctx context.Context, identifier string) models.LockoutStatus {
	now := s.now()
	windowStart := now.Add(-s.config.AttemptWindow)

	count, err := s.ledger.CountFailedByIdentifier(ctx, identifier, windowStart)
	if err != nil {
		s.failOpen(ctx, "user_lockout_check", identifier, "", err)
		return models.LockoutStatus{}
	}
	if count < s.config.LockoutThreshold {
		return models.LockoutStatus{}
	}

	times, err := s.ledger.FailureTimesByIdentifier(ctx, identifier, windowStart, s.config.LockoutThreshold)
	if err != nil {
		s.failOpen(ctx, "user_lockout_check", identifier, "", err)
		return models.LockoutStatus{}
	}

	return s.lockStatus(times, now)
}

// IsIPBlocked is the IP-scoped variant of IsUserLockedOut with its own,
// typically higher, threshold: one IP may front many legitimate users (NAT)
func (s *LockoutService) IsIPBlocked(ctx context.Context, ip string) models.LockoutStatus {
	now := s.now()
	windowStart := now.Add(-s.config.AttemptWindow)

	count, err := s.ledger.CountFailedByIP(ctx, ip, windowStart)
	if err != nil {
		s.failOpen(ctx, "ip_block_check", "", ip, err)
		return models.LockoutStatus{}
	}
	if count < s.config.IPBlockThreshold {
		return models.LockoutStatus{}
	}

	times, err := s.ledger.FailureTimesByIP(ctx, ip, windowStart, s.config.IPBlockThreshold)
	if err != nil {
		s.failOpen(ctx, "ip_block_check", "", ip, err)
		return models.LockoutStatus{}
	}

	return s.lockStatus(times, now)
}

// lockStatus derives a lock verdict from the threshold most recent failure
// times (newest first). The lock expires when the oldest of them leaves the
// window, dropping the count back below threshold.
func (s *LockoutService) lockStatus(times []time.Time, now time.Time) models.LockoutStatus {
	if len(times) == 0 {
		return models.LockoutStatus{}
	}

	crossedAt := times[len(times)-1]
	expiresAt := crossedAt.Add(s.config.AttemptWindow)
	remaining := expiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	return models.LockoutStatus{
		IsLocked:      true,
		Reason:        models.LockoutTooManyAttempts,
		LockedAt:      crossedAt,
		ExpiresAt:     expiresAt,
		RemainingTime: remaining,
	}
}

// CheckSuspiciousPatterns computes a heuristic risk score from attempt
// velocity, device-fingerprint churn, and known-bad identifier patterns.
// A suspicious verdict never blocks by itself - it escalates CAPTCHA and
// logging only.
func (s *LockoutService) CheckSuspiciousPatterns(ctx context.Context, identifier, ip, userAgent string) models.SuspicionReport {
	now := s.now()
	windowStart := now.Add(-s.config.AttemptWindow)

	attempts, err := s.ledger.RecentAttempts(ctx, identifier, windowStart)
	if err != nil {
		s.failOpen(ctx, "suspicion_check", identifier, ip, err)
		return models.SuspicionReport{}
	}

	report := s.scorePatterns(attempts, identifier, ip, now)

	if report.IsSuspicious {
		s.recordEvent(ctx, &models.SecurityEvent{
			EventType:  models.EventSuspicious,
			Identifier: identifier,
			IPAddress:  ip,
			Reasons:    report.Reasons,
			RiskScore:  report.RiskScore,
		})
	}

	return report
}

// scorePatterns is the pure scoring function over a ledger snapshot
func (s *LockoutService) scorePatterns(attempts []*models.LoginAttempt, identifier, ip string, now time.Time) models.SuspicionReport {
	var report models.SuspicionReport

	// Attempt velocity: failures in the last minute above baseline
	recentFailures := 0
	minuteAgo := now.Add(-1 * time.Minute)
	for _, a := range attempts {
		if a.Outcome.Failed() && a.AttemptTime.After(minuteAgo) {
			recentFailures++
		}
	}
	if recentFailures >= s.config.SuspicionVelocityPerMinute {
		report.RiskScore += riskVelocity
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("attempt_velocity: %d failures in the last minute", recentFailures))
	}

	// Fingerprint churn: the same identifier arriving from many devices
	// within the window is a credential-stuffing signature
	fingerprints := make(map[string]bool)
	for _, a := range attempts {
		if a.DeviceFingerprint != "" {
			fingerprints[a.DeviceFingerprint] = true
		}
	}
	if len(fingerprints) >= 3 {
		report.RiskScore += riskFingerprint
		report.Reasons = append(report.Reasons,
			fmt.Sprintf("fingerprint_churn: %d distinct devices", len(fingerprints)))
	}

	// Disposable/abuse domains
	if at := strings.LastIndex(identifier, "@"); at >= 0 {
		domain := strings.ToLower(identifier[at+1:])
		if disposableDomains[domain] {
			report.RiskScore += riskDisposable
			report.Reasons = append(report.Reasons, "disposable_domain: "+domain)
		}
	}

	// Undeterminable source address
	if ip == "" || ip == "unknown" {
		report.RiskScore += riskUnknownIP
		report.Reasons = append(report.Reasons, "unknown_source_ip")
	}

	report.IsSuspicious = report.RiskScore >= s.config.SuspicionRiskThreshold
	return report
}

// IsCaptchaRequired reports whether the attempt count for either subject
// has crossed the CAPTCHA threshold. The escalation ladder demands CAPTCHA
// before the (higher) lockout threshold trips; the ordering is enforced at
// configuration time.
func (s *LockoutService) IsCaptchaRequired(ctx context.Context, identifier, ip string) bool {
	windowStart := s.now().Add(-s.config.AttemptWindow)

	idCount, err := s.ledger.CountFailedByIdentifier(ctx, identifier, windowStart)
	if err != nil {
		s.failOpen(ctx, "captcha_check", identifier, ip, err)
		return false
	}
	if idCount >= s.config.CaptchaThreshold {
		return true
	}

	ipCount, err := s.ledger.CountFailedByIP(ctx, ip, windowStart)
	if err != nil {
		s.failOpen(ctx, "captcha_check", identifier, ip, err)
		return false
	}

	return ipCount >= s.config.CaptchaThreshold
}

// CalculateProgressiveDelay returns the synchronous pause applied before
// credential verification: base * 2^(attempts-1), capped at the configured
// maximum, monotonically non-decreasing in attempt count
func (s *LockoutService) CalculateProgressiveDelay(ctx context.Context, identifier, ip string) time.Duration {
	windowStart := s.now().Add(-s.config.AttemptWindow)

	idCount, err := s.ledger.CountFailedByIdentifier(ctx, identifier, windowStart)
	if err != nil {
		s.failOpen(ctx, "delay_check", identifier, ip, err)
		return 0
	}

	ipCount, err := s.ledger.CountFailedByIP(ctx, ip, windowStart)
	if err != nil {
		s.failOpen(ctx, "delay_check", identifier, ip, err)
		ipCount = 0
	}

	attempts := idCount
	if ipCount > attempts {
		attempts = ipCount
	}

	return s.delayForAttempts(attempts)
}

// delayForAttempts is the pure delay curve
func (s *LockoutService) delayForAttempts(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}

	delay := s.config.DelayBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.config.DelayMax {
			return s.config.DelayMax
		}
	}
	if delay > s.config.DelayMax {
		return s.config.DelayMax
	}
	return delay
}

// Evaluate runs all checks and assembles the security context for one
// request. The checks are not mutually exclusive and none short-circuits
// another: each produces distinct user-facing detail.
func (s *LockoutService) Evaluate(ctx context.Context, identifier, ip, userAgent string) *models.SecurityContext {
	sc := &models.SecurityContext{
		Identifier:        identifier,
		IPAddress:         ip,
		UserAgent:         userAgent,
		DeviceFingerprint: DeviceFingerprint(ip, userAgent),
		Enabled:           true,
		EvaluatedAt:       s.now(),
	}

	if s.config.Disabled {
		sc.Enabled = false
		return sc
	}

	sc.Lockout = s.IsUserLockedOut(ctx, identifier)
	sc.IPBlock = s.IsIPBlocked(ctx, ip)
	sc.Suspicion = s.CheckSuspiciousPatterns(ctx, identifier, ip, userAgent)
	sc.CaptchaRequired = s.IsCaptchaRequired(ctx, identifier, ip)
	sc.Delay = s.CalculateProgressiveDelay(ctx, identifier, ip)

	if sc.Lockout.IsLocked {
		s.audit.LogSecurityDecision(models.EventLockout, pkglogger.AuditEvent{
			Identifier:    identifier,
			IPAddress:     ip,
			FailureReason: string(sc.Lockout.Reason),
			Metadata: map[string]string{
				"remaining": sc.Lockout.RemainingTime.String(),
			},
		})
		s.recordEvent(ctx, &models.SecurityEvent{
			EventType:  models.EventLockout,
			Identifier: identifier,
			IPAddress:  ip,
			Reasons:    []string{string(sc.Lockout.Reason)},
		})
	}
	if sc.IPBlock.IsLocked {
		s.audit.LogSecurityDecision(models.EventIPBlock, pkglogger.AuditEvent{
			IPAddress:     ip,
			FailureReason: string(sc.IPBlock.Reason),
		})
		s.recordEvent(ctx, &models.SecurityEvent{
			EventType: models.EventIPBlock,
			IPAddress: ip,
			Reasons:   []string{string(sc.IPBlock.Reason)},
		})
	}

	return sc
}

// RecordOutcome tells the ledger how the attempt ended. Success clears the
// identifier's and IP's failure history so legitimate recovery is
// immediate; failure appends. Record failures are non-fatal: the gate keeps
// evaluating on the last successful read.
func (s *LockoutService) RecordOutcome(ctx context.Context, identifier, ip, userAgent string, outcome models.AttemptOutcome) {
	if s.config.Disabled {
		return
	}

	if outcome == models.OutcomeSuccess {
		if err := s.ledger.ClearFailures(ctx, identifier, ip); err != nil {
			s.logger.Error("failed to clear attempt history",
				slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
				slog.Any("error", err))
		}
	}

	now := s.now()
	attempt := &models.LoginAttempt{
		Identifier:        identifier,
		IPAddress:         ip,
		UserAgent:         userAgent,
		DeviceFingerprint: DeviceFingerprint(ip, userAgent),
		Outcome:           outcome,
		AttemptTime:       now,
		ExpiresAt:         now.Add(s.config.AttemptWindow * 2), // keep records for 2x window
	}

	if err := s.ledger.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("identifier", pkglogger.SanitizedIdentifier(identifier)),
			slog.String("outcome", string(outcome)),
			slog.Any("error", err))
	}
}

// failOpen logs a degraded check. The request proceeds with the safe
// default for that check, but the degradation itself must reach the audit
// trail so an unavailable store does not also blind it.
func (s *LockoutService) failOpen(ctx context.Context, check, identifier, ip string, err error) {
	s.logger.Error("security check degraded, failing open",
		slog.String("check", check),
		slog.Any("error", err))

	s.audit.LogSecurityDecision(models.EventFailOpen, pkglogger.AuditEvent{
		Identifier:    identifier,
		IPAddress:     ip,
		FailureReason: check,
	})
}

func (s *LockoutService) recordEvent(ctx context.Context, event *models.SecurityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Error("failed to record security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

// DeviceFingerprint creates a stable hash of IP + User-Agent for device
// identification across attempts
func DeviceFingerprint(ip, userAgent string) string {
	data := []byte(fmt.Sprintf("%s:%s", ip, userAgent))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}
