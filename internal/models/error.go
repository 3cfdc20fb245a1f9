package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Policy denial errors - expected, user-facing, carry remediation detail.
	// These are logged as security events, never as failures.
	ErrAccountLocked     = errors.New("account is temporarily locked")
	ErrIPBlocked         = errors.New("ip address is blocked")
	ErrCaptchaRequired   = errors.New("captcha verification required")
	ErrCaptchaInvalid    = errors.New("captcha verification failed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Session lifecycle errors
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrFreshSessionRequired = errors.New("fresh session required")
	ErrInsufficientSecurity = errors.New("insufficient session security level")
	ErrRememberMeExpired    = errors.New("remember me token expired")
	ErrRememberMeInvalid    = errors.New("remember me token invalid")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
)
