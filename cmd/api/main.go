package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/background"
	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/database"
	"github.com/darienwest/gatehouse/internal/handlers"
	"github.com/darienwest/gatehouse/internal/middleware"
	"github.com/darienwest/gatehouse/internal/repositories"
	"github.com/darienwest/gatehouse/internal/routes"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

func main() {
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	migrationsDir := flag.String("migrations", "migrations", "path to the migrations directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Bool("login_security_disabled", cfg.Security.Disabled))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if *migrate {
		if err := runMigrations(db, *migrationsDir); err != nil {
			logger.Error("migration failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
		return
	}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Services
	lockoutService := services.NewLockoutService(attemptRepo, eventRepo, cfg.Security, logger, auditLogger)
	sessionService := services.NewSessionService(sessionRepo, eventRepo, cfg.Session, cfg.Security.StrictFingerprint, logger, auditLogger)

	var notifier services.SecurityNotifier
	if cfg.Notifier.Enabled {
		sesNotifier, err := services.NewSESNotifier(cfg.Notifier, eventRepo, logger)
		if err != nil {
			logger.Error("failed to initialize notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	loginService := services.NewLoginService(userRepo, lockoutService, sessionService, notifier, logger, auditLogger)

	// Security gate
	var captcha auth.CaptchaVerifier
	if cfg.Security.CaptchaVerifyURL != "" {
		captcha = auth.NewHTTPCaptchaVerifier(cfg.Security.CaptchaVerifyURL, cfg.Security.CaptchaSecret)
	}
	gate := auth.NewSecurityGate(lockoutService, captcha, ipConfig, auth.GateConfig{
		Disabled:          cfg.Security.Disabled,
		CaptchaFailClosed: cfg.Security.CaptchaFailClosed,
	}, logger, auditLogger)

	totpManager := auth.NewTOTPManager(cfg.Session.TOTPIssuer)

	cookieConfig := auth.CookieConfig{
		Domain:   cfg.Server.CookieDomain,
		Secure:   cfg.Server.Env == "production",
		SameSite: "strict",
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(loginService, sessionService, ipConfig, cookieConfig)
	sessionsHandler := handlers.NewSessionsHandler(sessionService)
	stepUpHandler := handlers.NewStepUpHandler(userRepo, sessionService, totpManager)

	// Background cleanup
	cleanupManager := background.NewCleanupManager(attemptRepo, sessionRepo, eventRepo, logger, cfg.Security.CleanupInterval)

	// Router
	corsConfig := middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middleware.CORS(corsConfig))
	router.Use(middleware.SecureLogger(logger))
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, sessionsHandler, stepUpHandler, gate, sessionService, ipConfig,
		middleware.RateLimitConfig{RequestsPerMinute: cfg.Security.RequestsPerMinute})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		stats := db.Stats()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","database":"up","pool":{"total_conns":%d,"idle_conns":%d}}`,
			stats.TotalConns(), stats.IdleConns())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// runMigrations applies goose migrations through a stdlib adapter over the
// pgx pool
func runMigrations(db *database.DB, dir string) error {
	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()

	goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(sqlDB, dir)
}
