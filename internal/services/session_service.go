package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/models"
	pkgauth "github.com/darienwest/gatehouse/pkg/auth"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// SessionStore defines the session-store operations the manager uses
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error
	SetSecurityLevel(ctx context.Context, id string, level models.SecurityLevel) error
	Delete(ctx context.Context, id string) (bool, error)
	DeleteAllForUser(ctx context.Context, userID, exceptID string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Session, error)
	CreateRememberMeToken(ctx context.Context, t *models.RememberMeToken) error
	GetRememberMeToken(ctx context.Context, tokenHash string) (*models.RememberMeToken, error)
	ConsumeRememberMeToken(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error)
	DeleteRememberMeTokensForUser(ctx context.Context, userID string) error
}

// RequestContext carries the transport-level facts about the caller that
// session operations bind to
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// Fingerprint derives the device fingerprint for this request
func (rc RequestContext) Fingerprint() string {
	return DeviceFingerprint(rc.IPAddress, rc.UserAgent)
}

// CreateSessionParams are the caller-supplied options for session creation
type CreateSessionParams struct {
	LoginType     models.LoginType
	SecurityLevel models.SecurityLevel // zero value: derived from LoginType
	RememberMe    bool
	MaxAge        time.Duration // zero value: configured default
}

// CreatedSession is the result of session creation. RememberMeToken is the
// only time the plaintext token exists outside the client; the store keeps
// a hash.
type CreatedSession struct {
	Session         *models.Session
	RememberMeToken string
}

// RefreshResult is the outcome of a remember-me refresh
type RefreshResult struct {
	Success         bool   `json:"success"`
	Reason          string `json:"reason,omitempty"`
	Session         *models.Session
	RememberMeToken string
}

// Remember-me refresh failure reasons
const (
	RefreshReasonExpired = "expired"
	RefreshReasonInvalid = "invalid"
)

// SessionService manages the session lifecycle: creation, validation,
// refresh, remember-me minting, and destruction. Sessions move through
// CREATED -> ACTIVE -> EXPIRED or DESTROYED; the terminal states are not
// distinguished for callers but are kept apart in the audit trail.
type SessionService struct {
	store  SessionStore
	events SecurityEventRecorder
	config config.SessionConfig
	strict bool // fingerprint drift rejects instead of logging
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
	now    func() time.Time
}

// NewSessionService creates a new SessionService
func NewSessionService(store SessionStore, events SecurityEventRecorder, cfg config.SessionConfig, strictFingerprint bool, logger *slog.Logger, audit *pkglogger.AuditLogger) *SessionService {
	return &SessionService{
		store:  store,
		events: events,
		config: cfg,
		strict: strictFingerprint,
		logger: logger,
		audit:  audit,
		now:    time.Now,
	}
}

// CreateSession allocates a new unguessable session id and persists the
// record. This is the one write in the pipeline that fails loud: silently
// continuing without a session would be worse than surfacing the error.
func (s *SessionService) CreateSession(ctx context.Context, userID string, reqCtx RequestContext, params CreateSessionParams) (*CreatedSession, error) {
	id, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = s.config.DefaultMaxAge
	}

	level := params.SecurityLevel
	if !level.Valid() {
		level = defaultSecurityLevel(params.LoginType)
	}

	now := s.now()
	session := &models.Session{
		ID:                id,
		UserID:            userID,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(maxAge),
		MaxAge:            maxAge,
		LoginType:         params.LoginType,
		SecurityLevel:     level,
		RememberMe:        params.RememberMe,
		DeviceFingerprint: reqCtx.Fingerprint(),
		IPAddress:         reqCtx.IPAddress,
		UserAgent:         reqCtx.UserAgent,
	}

	if err := s.store.Create(ctx, session); err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	result := &CreatedSession{Session: session}

	if params.RememberMe {
		token, err := s.mintRememberMeToken(ctx, userID, session.ID)
		if err != nil {
			// The session itself is established; a failed token mint only
			// loses the long-lived credential
			s.logger.Error("failed to mint remember-me token",
				slog.String("user_id", userID), slog.Any("error", err))
		} else {
			result.RememberMeToken = token
		}
	}

	s.audit.LogSessionEvent("session_created", userID, session.ID, reqCtx.IPAddress, map[string]string{
		"login_type":     string(session.LoginType),
		"security_level": string(session.SecurityLevel),
		"remember_me":    fmt.Sprintf("%t", session.RememberMe),
	})

	return result, nil
}

func (s *SessionService) mintRememberMeToken(ctx context.Context, userID, sessionID string) (string, error) {
	token, err := pkgauth.GenerateOpaqueToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	record := &models.RememberMeToken{
		TokenHash: pkgauth.HashToken(token),
		UserID:    userID,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.RememberMeMaxAge),
	}

	if err := s.store.CreateRememberMeToken(ctx, record); err != nil {
		return "", err
	}

	return token, nil
}

// ValidateSession checks a session id against the store. Expired sessions
// are lazily deleted here; that deletion is recorded as passive expiry,
// distinct in the audit trail from actor-initiated destruction.
func (s *SessionService) ValidateSession(ctx context.Context, sessionID string, reqCtx RequestContext) (*models.ValidationResult, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &models.ValidationResult{Valid: false, Reason: models.ValidationReasonNotFound}, nil
		}
		return nil, err
	}

	now := s.now()
	if session.Expired(now) {
		s.expireSession(ctx, session)
		return &models.ValidationResult{Valid: false, Reason: models.ValidationReasonExpired}, nil
	}

	// Anti-hijacking soft check: a sharp fingerprint divergence from the
	// creation context is logged, and blocks only in strict mode
	if fp := reqCtx.Fingerprint(); session.DeviceFingerprint != "" && fp != session.DeviceFingerprint {
		s.audit.LogSessionEvent(models.EventFingerprintDrift, session.UserID, session.ID, reqCtx.IPAddress, map[string]string{
			"strict": fmt.Sprintf("%t", s.strict),
		})
		s.recordEvent(ctx, &models.SecurityEvent{
			EventType: models.EventFingerprintDrift,
			UserID:    session.UserID,
			SessionID: session.ID,
			IPAddress: reqCtx.IPAddress,
		})
		if s.strict {
			return &models.ValidationResult{Valid: false, Reason: models.ValidationReasonFingerprintDrift}, nil
		}
	}

	if s.config.TrackActivity {
		session.LastActivity = now
		session.ExpiresAt = now.Add(session.MaxAge)
		if err := s.store.Touch(ctx, session.ID, session.LastActivity, session.ExpiresAt); err != nil && !errors.Is(err, models.ErrNotFound) {
			// Activity tracking is best effort; the session remains valid
			s.logger.Warn("failed to update session activity",
				slog.String("session_id", session.ID), slog.Any("error", err))
		}
	}

	return &models.ValidationResult{Valid: true, Session: session}, nil
}

// RefreshSession extends an existing session's expiry. It never rotates the
// session id: rotation is a distinct, stronger operation.
func (s *SessionService) RefreshSession(ctx context.Context, sessionID string, reqCtx RequestContext, maxAge time.Duration) (*models.Session, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}

	now := s.now()
	if session.Expired(now) {
		s.expireSession(ctx, session)
		return nil, models.ErrSessionExpired
	}

	if maxAge <= 0 {
		maxAge = session.MaxAge
	}

	session.LastActivity = now
	session.ExpiresAt = now.Add(maxAge)
	if err := s.store.Touch(ctx, session.ID, session.LastActivity, session.ExpiresAt); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}

	return session, nil
}

// RefreshFromRememberMeToken validates a remember-me token and, if valid,
// mints a brand new session. This is the only path where token and session
// lineages cross; the token never extends an existing session directly.
// Tokens are single use: a replacement is minted with the new session.
func (s *SessionService) RefreshFromRememberMeToken(ctx context.Context, token string, reqCtx RequestContext) (*RefreshResult, error) {
	tokenHash := pkgauth.HashToken(token)

	record, err := s.store.GetRememberMeToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return &RefreshResult{Success: false, Reason: RefreshReasonInvalid}, nil
		}
		return nil, err
	}

	now := s.now()
	if !now.Before(record.ExpiresAt) {
		return &RefreshResult{Success: false, Reason: RefreshReasonExpired}, nil
	}

	// Atomic consume: two concurrent refreshes with the same token cannot
	// both mint a session
	consumed, err := s.store.ConsumeRememberMeToken(ctx, tokenHash, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return &RefreshResult{Success: false, Reason: RefreshReasonInvalid}, nil
	}

	// Remembered sessions start at low security: sensitive operations
	// demand a fresh credential or step-up first
	created, err := s.CreateSession(ctx, record.UserID, reqCtx, CreateSessionParams{
		LoginType:     models.LoginTypePassword,
		SecurityLevel: models.SecurityLevelLow,
		RememberMe:    true,
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogSessionEvent("session_refreshed_from_token", record.UserID, created.Session.ID, reqCtx.IPAddress, nil)

	return &RefreshResult{
		Success:         true,
		Session:         created.Session,
		RememberMeToken: created.RememberMeToken,
	}, nil
}

// DestroySession removes one session. Destroying an already-absent session
// is a no-op, not an error.
func (s *SessionService) DestroySession(ctx context.Context, sessionID, reason string) error {
	existed, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return err
	}

	if existed {
		s.audit.LogSessionEvent(models.EventSessionDestroyed, "", sessionID, "", map[string]string{
			"reason": reason,
		})
		s.recordEvent(ctx, &models.SecurityEvent{
			EventType: models.EventSessionDestroyed,
			SessionID: sessionID,
			Reasons:   []string{reason},
		})
	}

	return nil
}

// DestroyAllUserSessions removes all sessions for a user, optionally
// keeping the caller's own ("sign out other devices"). Remember-me tokens
// are revoked in the same sweep: a surviving token could silently mint a
// session back.
func (s *SessionService) DestroyAllUserSessions(ctx context.Context, userID, exceptSessionID, reason string) (int64, error) {
	removed, err := s.store.DeleteAllForUser(ctx, userID, exceptSessionID)
	if err != nil {
		return 0, err
	}

	if err := s.store.DeleteRememberMeTokensForUser(ctx, userID); err != nil {
		s.logger.Error("failed to revoke remember-me tokens",
			slog.String("user_id", userID), slog.Any("error", err))
	}

	s.audit.LogSessionEvent(models.EventSessionDestroyed, userID, "", "", map[string]string{
		"reason":  reason,
		"scope":   "all_devices",
		"removed": fmt.Sprintf("%d", removed),
	})

	return removed, nil
}

// ListUserSessions returns a user's active sessions for device management
func (s *SessionService) ListUserSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.store.ListByUser(ctx, userID)
}

// ElevateSession raises a session's security level after step-up
// verification succeeds
func (s *SessionService) ElevateSession(ctx context.Context, sessionID string, level models.SecurityLevel) error {
	if !level.Valid() {
		return models.ErrBadRequest
	}

	if err := s.store.SetSecurityLevel(ctx, sessionID, level); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrSessionNotFound
		}
		return err
	}

	s.audit.LogSessionEvent(models.EventSessionElevated, "", sessionID, "", map[string]string{
		"level": string(level),
	})

	return nil
}

// RememberMeMaxAge exposes the configured remember-me token lifetime so
// the cookie binder can match it
func (s *SessionService) RememberMeMaxAge() time.Duration {
	return s.config.RememberMeMaxAge
}

// RequireFresh is a read-only policy filter over an already-valid session:
// it rejects when the last activity is older than maxAge. It never mutates
// state.
func (s *SessionService) RequireFresh(session *models.Session, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = s.config.FreshnessMaxAge
	}
	if s.now().Sub(session.LastActivity) > maxAge {
		return models.ErrFreshSessionRequired
	}
	return nil
}

// RequireSecurityLevel rejects an otherwise-valid session below the named
// floor on the ordered scale low < standard < high
func (s *SessionService) RequireSecurityLevel(session *models.Session, min models.SecurityLevel) error {
	if !session.SecurityLevel.AtLeast(min) {
		return models.ErrInsufficientSecurity
	}
	return nil
}

// expireSession lazily deletes a session found past its expiry and records
// the passive-expiry audit event
func (s *SessionService) expireSession(ctx context.Context, session *models.Session) {
	if _, err := s.store.Delete(ctx, session.ID); err != nil {
		s.logger.Warn("failed to delete expired session",
			slog.String("session_id", session.ID), slog.Any("error", err))
	}

	s.audit.LogSessionEvent(models.EventSessionExpired, session.UserID, session.ID, "", nil)
	s.recordEvent(ctx, &models.SecurityEvent{
		EventType: models.EventSessionExpired,
		UserID:    session.UserID,
		SessionID: session.ID,
	})
}

func (s *SessionService) recordEvent(ctx context.Context, event *models.SecurityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, event); err != nil {
		s.logger.Error("failed to record security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

// defaultSecurityLevel maps how a session was established to its starting
// level: OTP-verified logins start high, social logins low
func defaultSecurityLevel(loginType models.LoginType) models.SecurityLevel {
	switch loginType {
	case models.LoginTypeOTP:
		return models.SecurityLevelHigh
	case models.LoginTypeSocial:
		return models.SecurityLevelLow
	default:
		return models.SecurityLevelStandard
	}
}
