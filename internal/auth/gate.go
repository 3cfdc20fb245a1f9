package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SecurityContextKey is the key for the gate's evaluation result
	SecurityContextKey contextKey = "security_context"
	// SessionContextKey is the key for the validated session
	SessionContextKey contextKey = "session"
)

// Security evaluation headers stamped on every gated response
const (
	HeaderSecurityEnabled    = "X-Login-Security-Enabled"
	HeaderUserLocked         = "X-User-Locked"
	HeaderIPBlocked          = "X-IP-Blocked"
	HeaderCaptchaRequired    = "X-Captcha-Required"
	HeaderSuspiciousActivity = "X-Suspicious-Activity"
	HeaderProgressiveDelay   = "X-Progressive-Delay"
	HeaderSecurityTimestamp  = "X-Security-Timestamp"
	HeaderCaptchaToken       = "X-Captcha-Token"
)

// maxLoginBodySize bounds the body peek so a hostile client cannot feed
// the gate an unbounded payload
const maxLoginBodySize = 1 << 20

// GateConfig holds the gate's policy toggles
type GateConfig struct {
	Disabled          bool
	CaptchaFailClosed bool
}

// SecurityGate is the single enforcement point in front of credential
// verification. Order is fixed: lockout, IP block, captcha, progressive
// delay. Denials terminate the request before the handler runs; the delay
// is served inside the gate so handlers never sleep.
type SecurityGate struct {
	lockout  *services.LockoutService
	captcha  CaptchaVerifier
	ipConfig *pkghttp.IPConfig
	config   GateConfig
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
}

// NewSecurityGate creates a new SecurityGate. captcha may be nil, in which
// case captcha escalation only stamps the header.
func NewSecurityGate(lockout *services.LockoutService, captcha CaptchaVerifier, ipConfig *pkghttp.IPConfig, cfg GateConfig, logger *slog.Logger, audit *pkglogger.AuditLogger) *SecurityGate {
	return &SecurityGate{
		lockout:  lockout,
		captcha:  captcha,
		ipConfig: ipConfig,
		config:   cfg,
		logger:   logger,
		audit:    audit,
	}
}

// loginPeek is the slice of the login body the gate reads before the
// handler decodes the full request
type loginPeek struct {
	Identifier   string `json:"identifier"`
	Email        string `json:"email"`
	CaptchaToken string `json:"captcha_token"`
}

// Protect guards a login-shaped endpoint. The request body is peeked for
// the identifier and then restored for the downstream handler.
func (g *SecurityGate) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.config.Disabled {
			// The escape hatch still announces itself so operators can see
			// at a glance that protection is off
			w.Header().Set(HeaderSecurityEnabled, "false")
			next.ServeHTTP(w, r)
			return
		}

		peek, err := g.peekBody(r)
		if err != nil {
			pkghttp.WriteBadRequest(w, "invalid request body")
			return
		}

		identifier := peek.Identifier
		if identifier == "" {
			identifier = peek.Email
		}

		ip := pkghttp.ExtractClientIP(r, g.ipConfig)
		sc := g.lockout.Evaluate(r.Context(), identifier, ip, r.UserAgent())
		writeSecurityHeaders(w, sc)

		if sc.Denied() {
			g.writeDenial(w, sc)
			return
		}

		if sc.CaptchaRequired && !g.checkCaptcha(r.Context(), w, peek.CaptchaToken, r.Header.Get(HeaderCaptchaToken), ip) {
			return
		}

		if sc.Delay > 0 {
			// Context-bounded: a client that hangs up stops the wait
			timer := time.NewTimer(sc.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-r.Context().Done():
				return
			}
		}

		ctx := context.WithValue(r.Context(), SecurityContextKey, sc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// peekBody reads the login body for gate inputs and restores it so the
// handler can decode it again
func (g *SecurityGate) peekBody(r *http.Request) (*loginPeek, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLoginBodySize))
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	peek := &loginPeek{}
	if len(body) > 0 {
		// A malformed body is the handler's problem to report; the gate
		// evaluates what it can
		_ = json.Unmarshal(body, peek)
	}
	return peek, nil
}

// checkCaptcha enforces escalation once the evaluator demands a challenge.
// Returns true when the request may proceed.
func (g *SecurityGate) checkCaptcha(ctx context.Context, w http.ResponseWriter, bodyToken, headerToken, ip string) bool {
	token := bodyToken
	if token == "" {
		token = headerToken
	}

	if token == "" {
		pkghttp.WriteTooManyRequests(w, "captcha verification required")
		return false
	}

	if g.captcha == nil {
		// Escalation is configured but no verifier is wired: announce the
		// requirement without blocking
		return true
	}

	ok, err := g.captcha.Verify(ctx, token, ip)
	if err != nil {
		if g.config.CaptchaFailClosed {
			pkghttp.WriteTooManyRequests(w, "captcha verification unavailable")
			return false
		}
		g.audit.LogSecurityDecision(models.EventFailOpen, pkglogger.AuditEvent{
			IPAddress:     ip,
			FailureReason: "captcha_provider_unreachable",
			Metadata:      map[string]string{"error": err.Error()},
		})
		return true
	}

	if !ok {
		pkghttp.WriteTooManyRequests(w, "captcha verification failed")
		return false
	}

	return true
}

// writeDenial terminates a locked-out request with 423 and enough detail
// for the client to render a useful message
func (g *SecurityGate) writeDenial(w http.ResponseWriter, sc *models.SecurityContext) {
	status := sc.Lockout
	subject := "account"
	if !status.IsLocked {
		status = sc.IPBlock
		subject = "ip"
	}

	retryAfter := int(status.RemainingTime.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))

	pkghttp.WriteLocked(w, "too many failed login attempts", map[string]interface{}{
		"subject":     subject,
		"reason":      status.Reason,
		"locked_at":   status.LockedAt.UTC().Format(time.RFC3339),
		"expires_at":  status.ExpiresAt.UTC().Format(time.RFC3339),
		"retry_after": retryAfter,
	})
}

// writeSecurityHeaders stamps the evaluation outcome onto the response so
// clients and operators can observe gate decisions without log access
func writeSecurityHeaders(w http.ResponseWriter, sc *models.SecurityContext) {
	h := w.Header()
	h.Set(HeaderSecurityEnabled, "true")
	h.Set(HeaderUserLocked, fmt.Sprintf("%t", sc.Lockout.IsLocked))
	h.Set(HeaderIPBlocked, fmt.Sprintf("%t", sc.IPBlock.IsLocked))
	h.Set(HeaderCaptchaRequired, fmt.Sprintf("%t", sc.CaptchaRequired))
	h.Set(HeaderSuspiciousActivity, fmt.Sprintf("%t", sc.Suspicion.IsSuspicious))
	h.Set(HeaderProgressiveDelay, fmt.Sprintf("%d", int(sc.Delay.Milliseconds())))
	h.Set(HeaderSecurityTimestamp, sc.EvaluatedAt.UTC().Format(time.RFC3339))
}

// GetSecurityContext retrieves the gate's evaluation from the request
// context, nil when the gate did not run
func GetSecurityContext(r *http.Request) *models.SecurityContext {
	sc, _ := r.Context().Value(SecurityContextKey).(*models.SecurityContext)
	return sc
}
