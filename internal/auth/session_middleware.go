package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
)

// SessionMiddleware validates the session bound to the request and injects
// it into context. Requests without a valid session are rejected with 401;
// the response does not say whether the session expired or never existed.
func SessionMiddleware(sessions *services.SessionService, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ExtractSessionID(r)
			if sessionID == "" {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			reqCtx := services.RequestContext{
				IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
				UserAgent: r.UserAgent(),
			}

			result, err := sessions.ValidateSession(r.Context(), sessionID, reqCtx)
			if err != nil {
				pkghttp.WriteInternalError(w, "failed to validate session")
				return
			}
			if !result.Valid {
				pkghttp.WriteUnauthorized(w, "invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, result.Session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFresh enforces recent activity on the session for sensitive
// operations. Must run after SessionMiddleware.
func RequireFresh(sessions *services.SessionService, maxAge time.Duration) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSession(r)
			if session == nil {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			if err := sessions.RequireFresh(session, maxAge); err != nil {
				pkghttp.WriteForbidden(w, "recent authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSecurityLevel enforces a minimum session security level. Must run
// after SessionMiddleware.
func RequireSecurityLevel(sessions *services.SessionService, min models.SecurityLevel) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSession(r)
			if session == nil {
				pkghttp.WriteUnauthorized(w, "authentication required")
				return
			}

			if err := sessions.RequireSecurityLevel(session, min); err != nil {
				pkghttp.WriteForbidden(w, "additional verification required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSession retrieves the validated session from the request context, nil
// when no session middleware ran
func GetSession(r *http.Request) *models.Session {
	session, _ := r.Context().Value(SessionContextKey).(*models.Session)
	return session
}
