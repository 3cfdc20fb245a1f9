package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/darienwest/gatehouse/internal/models"
)

// Cookie names used by the session binder
const (
	SessionCookieName           = "session_id"
	RememberMeCookieName        = "remember_me"
	RememberMeEnabledCookieName = "remember_me_enabled"
)

// Session headers mirrored onto responses for non-browser clients
const (
	HeaderSessionID            = "X-Session-ID"
	HeaderSessionExpiresAt     = "X-Session-Expires-At"
	HeaderSessionMaxAge        = "X-Session-Max-Age"
	HeaderSessionSecurityLevel = "X-Session-Security-Level"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// SetSessionCookie binds a session id to the browser in an httpOnly cookie
func SetSessionCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration, config CookieConfig) {
	seconds := int(maxAge.Seconds())
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   seconds,
		HttpOnly: true, // Critical: prevents JavaScript access (XSS protection)
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	http.SetCookie(w, cookie)
}

// SetRememberMeCookie stores the long-lived remember-me token. Always
// SameSite=Strict regardless of config: this credential must never ride a
// cross-site request.
func SetRememberMeCookie(w http.ResponseWriter, token string, maxAge time.Duration, config CookieConfig) {
	seconds := int(maxAge.Seconds())
	cookie := &http.Cookie{
		Name:     RememberMeCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	http.SetCookie(w, cookie)

	// Readable marker so the frontend knows a silent refresh is worth
	// attempting without being able to touch the token itself
	marker := &http.Cookie{
		Name:     RememberMeEnabledCookieName,
		Value:    "true",
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   seconds,
		HttpOnly: false,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	http.SetCookie(w, marker)
}

// ClearSessionCookie clears the session cookie
func ClearSessionCookie(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, SessionCookieName, true, config)
}

// ClearRememberMeCookies clears the remember-me token and its marker
func ClearRememberMeCookies(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, RememberMeCookieName, true, config)
	clearCookie(w, RememberMeEnabledCookieName, false, config)
}

func clearCookie(w http.ResponseWriter, name string, httpOnly bool, config CookieConfig) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: httpOnly,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	}
	http.SetCookie(w, cookie)
}

// WriteSessionHeaders mirrors session facts onto response headers for
// mobile and API clients that do not speak cookies
func WriteSessionHeaders(w http.ResponseWriter, session *models.Session) {
	w.Header().Set(HeaderSessionID, session.ID)
	w.Header().Set(HeaderSessionExpiresAt, session.ExpiresAt.UTC().Format(time.RFC3339))
	w.Header().Set(HeaderSessionMaxAge, strconv.Itoa(int(session.MaxAge.Seconds())))
	w.Header().Set(HeaderSessionSecurityLevel, string(session.SecurityLevel))
}

// ExtractSessionID pulls the session id from the request, cookie first,
// then the X-Session-ID header for cookie-less clients
func ExtractSessionID(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get(HeaderSessionID)
}

// ExtractRememberMeToken pulls the remember-me token from the request
func ExtractRememberMeToken(r *http.Request) string {
	if cookie, err := r.Cookie(RememberMeCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get("X-Remember-Me-Token")
}

func parseSameSite(value string) http.SameSite {
	switch value {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
