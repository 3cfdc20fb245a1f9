package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
)

// AuthHandler handles login, logout, and remember-me refresh
type AuthHandler struct {
	login    *services.LoginService
	sessions *services.SessionService
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(login *services.LoginService, sessions *services.SessionService, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		login:    login,
		sessions: sessions,
		ipConfig: ipConfig,
		cookies:  cookies,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Identifier   string `json:"identifier" validate:"required,min=3,max=255"`
	Password     string `json:"password" validate:"required"`
	RememberMe   bool   `json:"remember_me"`
	CaptchaToken string `json:"captcha_token"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	User    UserResponse    `json:"user"`
	Session SessionResponse `json:"session"`
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionResponse is the public view of a session
type SessionResponse struct {
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	ExpiresAt     time.Time `json:"expires_at"`
	LoginType     string    `json:"login_type"`
	SecurityLevel string    `json:"security_level"`
	RememberMe    bool      `json:"remember_me"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

func sessionResponse(s *models.Session) SessionResponse {
	return SessionResponse{
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity,
		ExpiresAt:     s.ExpiresAt,
		LoginType:     string(s.LoginType),
		SecurityLevel: string(s.SecurityLevel),
		RememberMe:    s.RememberMe,
		IPAddress:     s.IPAddress,
		UserAgent:     s.UserAgent,
	}
}

// Login handles credential verification and session establishment. The
// security gate has already run; this handler only sees requests that
// passed lockout, captcha, and delay checks.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Identifier = strings.ToLower(strings.TrimSpace(req.Identifier))

	reqCtx := services.RequestContext{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}

	result, err := h.login.Login(r.Context(), services.LoginParams{
		Identifier: req.Identifier,
		Password:   req.Password,
		RememberMe: req.RememberMe,
	}, reqCtx)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Session.ID, result.Session.MaxAge, h.cookies)
	if result.RememberMeToken != "" {
		auth.SetRememberMeCookie(w, result.RememberMeToken, h.sessions.RememberMeMaxAge(), h.cookies)
	}
	auth.WriteSessionHeaders(w, result.Session)

	writeJSON(w, http.StatusOK, LoginResponse{
		User: UserResponse{
			ID:    result.User.ID,
			Email: result.User.Email,
			Name:  result.User.Name,
		},
		Session: sessionResponse(result.Session),
	})
}

// RefreshRequest represents the optional request body for remember-me
// refresh; the token may also arrive as a cookie or header
type RefreshRequest struct {
	Token string `json:"token"`
}

// Refresh mints a new session from a remember-me token. The old token is
// consumed whether or not the refresh succeeds past the consume point.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractRememberMeToken(r)
	if token == "" {
		var req RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.Token
		}
	}
	if token == "" {
		pkghttp.WriteUnauthorized(w, "remember-me token required")
		return
	}

	reqCtx := services.RequestContext{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
	}

	result, err := h.sessions.RefreshFromRememberMeToken(r.Context(), token, reqCtx)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to refresh session")
		return
	}

	if !result.Success {
		auth.ClearRememberMeCookies(w, h.cookies)
		pkghttp.WriteErrorWithDetails(w, http.StatusUnauthorized, "unauthorized", "remember-me token rejected", map[string]string{
			"reason": result.Reason,
		})
		return
	}

	auth.SetSessionCookie(w, result.Session.ID, result.Session.MaxAge, h.cookies)
	if result.RememberMeToken != "" {
		auth.SetRememberMeCookie(w, result.RememberMeToken, h.sessions.RememberMeMaxAge(), h.cookies)
	}
	auth.WriteSessionHeaders(w, result.Session)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sessionResponse(result.Session),
	})
}

// Logout destroys the current session. Logging out an already-gone
// session still succeeds and still clears cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := auth.ExtractSessionID(r); sessionID != "" {
		if err := h.sessions.DestroySession(r.Context(), sessionID, "logout"); err != nil {
			pkghttp.WriteInternalError(w, "failed to log out")
			return
		}
	}

	auth.ClearSessionCookie(w, h.cookies)
	auth.ClearRememberMeCookies(w, h.cookies)

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// LogoutAll destroys every session for the authenticated user, including
// the current one, and revokes remember-me tokens
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	removed, err := h.sessions.DestroyAllUserSessions(r.Context(), session.UserID, "", "logout_all")
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to log out")
		return
	}

	auth.ClearSessionCookie(w, h.cookies)
	auth.ClearRememberMeCookies(w, h.cookies)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":          "logged out everywhere",
		"sessions_removed": removed,
	})
}

// CurrentSession returns the authenticated session's details
func (h *AuthHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	auth.WriteSessionHeaders(w, session)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sessionResponse(session),
	})
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid credentials")
	case errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteForbidden(w, "Account suspended")
	case errors.Is(err, models.ErrAccountDisabled):
		pkghttp.WriteForbidden(w, "Account disabled")
	default:
		pkghttp.WriteInternalError(w, "Login failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
