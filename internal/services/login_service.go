package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/darienwest/gatehouse/internal/models"
	pkgauth "github.com/darienwest/gatehouse/pkg/auth"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// UserDirectory is the read-mostly view of the account store the login
// flow needs
type UserDirectory interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetTOTPSecret(ctx context.Context, userID, secret string) error
}

// SecurityNotifier dispatches out-of-band alerts for notable security
// outcomes. Implementations must not block the login path.
type SecurityNotifier interface {
	NotifyLockout(ctx context.Context, user *models.User, status models.LockoutStatus)
	NotifySuspiciousActivity(ctx context.Context, user *models.User, report models.SuspicionReport)
}

// LoginParams are the caller-supplied credentials and options for a login
type LoginParams struct {
	Identifier string
	Password   string
	RememberMe bool
}

// LoginResult is a successful authentication outcome
type LoginResult struct {
	User            *models.User
	Session         *models.Session
	RememberMeToken string
}

// LoginService orchestrates credential verification: account lookup and
// state checks, password comparison, session establishment, and outcome
// recording. Security policy (lockouts, captcha, delay) is enforced by the
// gate before a request reaches this service; the service re-records every
// outcome so the ledger stays complete even if the gate is bypassed.
type LoginService struct {
	users    UserDirectory
	lockout  *LockoutService
	sessions *SessionService
	notifier SecurityNotifier
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewLoginService creates a new LoginService. notifier may be nil.
func NewLoginService(users UserDirectory, lockout *LockoutService, sessions *SessionService, notifier SecurityNotifier, logger *slog.Logger, audit *pkglogger.AuditLogger) *LoginService {
	return &LoginService{
		users:    users,
		lockout:  lockout,
		sessions: sessions,
		notifier: notifier,
		logger:   logger,
		audit:    audit,
	}
}

// Login authenticates a password credential and establishes a session.
// Unknown identifier and wrong password collapse to the same
// ErrUnauthorized so responses cannot be used to enumerate accounts.
func (s *LoginService) Login(ctx context.Context, params LoginParams, reqCtx RequestContext) (*LoginResult, error) {
	user, err := s.users.GetByIdentifier(ctx, params.Identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.recordFailure(ctx, params.Identifier, reqCtx, "user_not_found")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("user lookup failed", slog.Any("error", err))
		s.lockout.RecordOutcome(ctx, params.Identifier, reqCtx.IPAddress, reqCtx.UserAgent, models.OutcomeSystemError)
		return nil, models.ErrInternalServer
	}

	if err := validateAccountState(user); err != nil {
		s.recordFailure(ctx, params.Identifier, reqCtx, "account_"+user.Status)
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, params.Password); err != nil {
		s.recordFailure(ctx, params.Identifier, reqCtx, "invalid_credentials")
		s.maybeNotify(ctx, user, params.Identifier, reqCtx)
		return nil, models.ErrUnauthorized
	}

	created, err := s.sessions.CreateSession(ctx, user.ID, reqCtx, CreateSessionParams{
		LoginType:  models.LoginTypePassword,
		RememberMe: params.RememberMe,
	})
	if err != nil {
		// The credentials were valid but no session exists. Recording this
		// as success would clear the failure ledger for a login that never
		// completed.
		s.lockout.RecordOutcome(ctx, params.Identifier, reqCtx.IPAddress, reqCtx.UserAgent, models.OutcomeSystemError)
		return nil, models.ErrInternalServer
	}

	s.lockout.RecordOutcome(ctx, params.Identifier, reqCtx.IPAddress, reqCtx.UserAgent, models.OutcomeSuccess)
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:  "login",
		UserID:     user.ID,
		Identifier: params.Identifier,
		IPAddress:  reqCtx.IPAddress,
		UserAgent:  reqCtx.UserAgent,
		Success:    true,
	})

	return &LoginResult{
		User:            user,
		Session:         created.Session,
		RememberMeToken: created.RememberMeToken,
	}, nil
}

func (s *LoginService) recordFailure(ctx context.Context, identifier string, reqCtx RequestContext, reason string) {
	s.lockout.RecordOutcome(ctx, identifier, reqCtx.IPAddress, reqCtx.UserAgent, models.OutcomeInvalidCredentials)
	s.audit.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login",
		Identifier:    identifier,
		IPAddress:     reqCtx.IPAddress,
		UserAgent:     reqCtx.UserAgent,
		Success:       false,
		FailureReason: reason,
	})
}

// maybeNotify dispatches lockout and suspicion alerts after a failure. The
// checks run against the ledger the failure was just appended to, so the
// alert fires on the attempt that crossed the line.
func (s *LoginService) maybeNotify(ctx context.Context, user *models.User, identifier string, reqCtx RequestContext) {
	if s.notifier == nil {
		return
	}

	if status := s.lockout.IsUserLockedOut(ctx, identifier); status.IsLocked {
		s.notifier.NotifyLockout(ctx, user, status)
		return
	}

	if report := s.lockout.CheckSuspiciousPatterns(ctx, identifier, reqCtx.IPAddress, reqCtx.UserAgent); report.IsSuspicious {
		s.notifier.NotifySuspiciousActivity(ctx, user, report)
	}
}

func validateAccountState(user *models.User) error {
	switch user.Status {
	case "suspended":
		return models.ErrAccountSuspended
	case "disabled":
		return models.ErrAccountDisabled
	}
	if !user.IsActive {
		return models.ErrAccountDisabled
	}
	return nil
}
