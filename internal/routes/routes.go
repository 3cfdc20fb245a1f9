package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/handlers"
	"github.com/darienwest/gatehouse/internal/middleware"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	sessionsHandler *handlers.SessionsHandler,
	stepUpHandler *handlers.StepUpHandler,
	gate *auth.SecurityGate,
	sessionService *services.SessionService,
	ipConfig *pkghttp.IPConfig,
	rateLimitConfig middleware.RateLimitConfig,
) {
	rateLimit := middleware.RateLimitByIP(rateLimitConfig)

	// Login runs behind the blunt per-IP limiter first, then the gate
	router.With(rateLimit, gate.Protect).Post("/auth/login", authHandler.Login)
	router.With(rateLimit).Post("/auth/refresh", authHandler.Refresh)

	// Logout is deliberately unauthenticated: an expired session must
	// still be able to clear its cookies
	router.Post("/auth/logout", authHandler.Logout)

	// Session-protected routes
	router.Group(func(r chi.Router) {
		r.Use(auth.SessionMiddleware(sessionService, ipConfig))

		r.Get("/auth/session", authHandler.CurrentSession)
		r.Post("/auth/logout-all", authHandler.LogoutAll)

		r.Get("/sessions", sessionsHandler.List)
		r.Post("/sessions/revoke-others", sessionsHandler.DestroyOthers)
		r.Delete("/sessions/{sessionID}", sessionsHandler.Destroy)

		r.Post("/auth/step-up/setup", stepUpHandler.Setup)
		r.Post("/auth/step-up/verify", stepUpHandler.Verify)
	})
}
