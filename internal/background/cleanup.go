package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/darienwest/gatehouse/internal/repositories"
)

// eventRetention is how long durable security events are kept
const eventRetention = 90 * 24 * time.Hour

// CleanupManager periodically sweeps expired rows: login attempts past
// their retention, expired sessions that were never validated again,
// expired remember-me tokens, and old security events. The sweep is an
// optimization only; every read path already filters by expiry, so a
// missed sweep never changes behavior.
type CleanupManager struct {
	attempts *repositories.AttemptRepository
	sessions *repositories.SessionRepository
	events   *repositories.SecurityEventRepository
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	attempts *repositories.AttemptRepository,
	sessions *repositories.SessionRepository,
	events *repositories.SecurityEventRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		attempts: attempts,
		sessions: sessions,
		events:   events,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// runCleanup sweeps each table independently; one failing sweep does not
// stop the others
func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cm.logger.Info("starting security data cleanup")

	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	total := int64(0)

	if n, err := cm.attempts.DeleteExpired(cleanupCtx); err != nil {
		cm.logger.Error("failed to cleanup login attempts", slog.Any("error", err))
	} else {
		total += n
	}

	if n, err := cm.sessions.DeleteExpiredSessions(cleanupCtx); err != nil {
		cm.logger.Error("failed to cleanup expired sessions", slog.Any("error", err))
	} else {
		total += n
	}

	if n, err := cm.sessions.DeleteExpiredRememberMeTokens(cleanupCtx); err != nil {
		cm.logger.Error("failed to cleanup remember-me tokens", slog.Any("error", err))
	} else {
		total += n
	}

	if n, err := cm.events.DeleteOlderThan(cleanupCtx, time.Now().Add(-eventRetention)); err != nil {
		cm.logger.Error("failed to cleanup security events", slog.Any("error", err))
	} else {
		total += n
	}

	if total > 0 {
		cm.logger.Info("security data cleanup completed", slog.Int64("rows_deleted", total))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
