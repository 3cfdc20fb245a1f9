package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/database"
	"github.com/darienwest/gatehouse/internal/handlers"
	"github.com/darienwest/gatehouse/internal/middleware"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/routes"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// SentAlert is a captured security notification
type SentAlert struct {
	Kind   string // "lockout" or "suspicious"
	UserID string
}

// MockNotifier captures security alerts for test assertions
type MockNotifier struct {
	Alerts []SentAlert
	mu     sync.Mutex
}

func (m *MockNotifier) NotifyLockout(ctx context.Context, user *models.User, status models.LockoutStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, SentAlert{Kind: "lockout", UserID: user.ID})
}

func (m *MockNotifier) NotifySuspiciousActivity(ctx context.Context, user *models.User, report models.SuspicionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, SentAlert{Kind: "suspicious", UserID: user.ID})
}

// LastAlert returns the most recent alert, nil when none fired
func (m *MockNotifier) LastAlert() *SentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Alerts) == 0 {
		return nil
	}
	return &m.Alerts[len(m.Alerts)-1]
}

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Notifier *MockNotifier
	Config   *config.Config

	Sessions *services.SessionService
	Lockout  *services.LockoutService
}

// NewTestServer initializes a complete HTTP server against a real database
// with the notifier mocked out
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)

	cfg := &config.Config{
		Security: config.SecurityConfig{
			LockoutThreshold: 5,
			IPBlockThreshold: 20,
			CaptchaThreshold: 3,
			AttemptWindow:    time.Hour,
			// Keep progressive delay near zero so tests stay fast
			DelayBase:                  time.Millisecond,
			DelayMax:                   4 * time.Millisecond,
			SuspicionVelocityPerMinute: 10,
			SuspicionRiskThreshold:     50,
			RequestsPerMinute:          1000,
		},
		Session: config.SessionConfig{
			DefaultMaxAge:    24 * time.Hour,
			RememberMeMaxAge: 30 * 24 * time.Hour,
			FreshnessMaxAge:  15 * time.Minute,
			TrackActivity:    true,
			TOTPIssuer:       "gatehouse-test",
		},
		Server: config.ServerConfig{
			Port: "0",
			Env:  "test",
		},
	}

	userRepo, attemptRepo, sessionRepo, eventRepo := InitializeRepositories(db)

	notifier := &MockNotifier{}

	lockoutService := services.NewLockoutService(attemptRepo, eventRepo, cfg.Security, logger, auditLogger)
	sessionService := services.NewSessionService(sessionRepo, eventRepo, cfg.Session, cfg.Security.StrictFingerprint, logger, auditLogger)
	loginService := services.NewLoginService(userRepo, lockoutService, sessionService, notifier, logger, auditLogger)

	ipConfig := &pkghttp.IPConfig{}
	cookieConfig := auth.CookieConfig{SameSite: "strict"}

	gate := auth.NewSecurityGate(lockoutService, nil, ipConfig, auth.GateConfig{}, logger, auditLogger)
	totpManager := auth.NewTOTPManager(cfg.Session.TOTPIssuer)

	authHandler := handlers.NewAuthHandler(loginService, sessionService, ipConfig, cookieConfig)
	sessionsHandler := handlers.NewSessionsHandler(sessionService)
	stepUpHandler := handlers.NewStepUpHandler(userRepo, sessionService, totpManager)

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Recoverer)

	routes.RegisterRoutes(router, authHandler, sessionsHandler, stepUpHandler, gate, sessionService, ipConfig,
		middleware.RateLimitConfig{RequestsPerMinute: cfg.Security.RequestsPerMinute})

	return &TestServer{
		Server:   httptest.NewServer(router),
		DB:       db,
		Notifier: notifier,
		Config:   cfg,
		Sessions: sessionService,
		Lockout:  lockoutService,
	}
}

// Close shuts the HTTP server down
func (ts *TestServer) Close() {
	ts.Server.Close()
}
