package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/services"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// fakeStore is a minimal in-memory services.SessionStore for middleware tests
type fakeStore struct {
	sessions map[string]*models.Session
	tokens   map[string]*models.RememberMeToken
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*models.Session),
		tokens:   make(map[string]*models.RememberMeToken),
	}
}

func (f *fakeStore) Create(ctx context.Context, s *models.Session) error {
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	s, ok := f.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	s.LastActivity = lastActivity
	s.ExpiresAt = expiresAt
	return nil
}

func (f *fakeStore) SetSecurityLevel(ctx context.Context, id string, level models.SecurityLevel) error {
	s, ok := f.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	s.SecurityLevel = level
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) (bool, error) {
	_, ok := f.sessions[id]
	delete(f.sessions, id)
	return ok, nil
}

func (f *fakeStore) DeleteAllForUser(ctx context.Context, userID, exceptID string) (int64, error) {
	var removed int64
	for id, s := range f.sessions {
		if s.UserID == userID && id != exceptID {
			delete(f.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	var out []*models.Session
	for _, s := range f.sessions {
		if s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRememberMeToken(ctx context.Context, t *models.RememberMeToken) error {
	copied := *t
	f.tokens[t.TokenHash] = &copied
	return nil
}

func (f *fakeStore) GetRememberMeToken(ctx context.Context, tokenHash string) (*models.RememberMeToken, error) {
	t, ok := f.tokens[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (f *fakeStore) ConsumeRememberMeToken(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error) {
	t, ok := f.tokens[tokenHash]
	if !ok || t.UsedAt != nil {
		return false, nil
	}
	t.UsedAt = &usedAt
	return true, nil
}

func (f *fakeStore) DeleteRememberMeTokensForUser(ctx context.Context, userID string) error {
	for hash, t := range f.tokens {
		if t.UserID == userID {
			delete(f.tokens, hash)
		}
	}
	return nil
}

func newMiddlewareFixture(t *testing.T) (*services.SessionService, *fakeStore) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	cfg := config.SessionConfig{
		DefaultMaxAge:    24 * time.Hour,
		RememberMeMaxAge: 30 * 24 * time.Hour,
		FreshnessMaxAge:  15 * time.Minute,
		TrackActivity:    true,
	}
	store := newFakeStore()
	svc := services.NewSessionService(store, nil, cfg, false, logger, pkglogger.NewAuditLogger(logger))
	return svc, store
}

func seedSession(t *testing.T, store *fakeStore, level models.SecurityLevel, lastActivity time.Time) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:            "test-session-id",
		UserID:        "user-1",
		CreatedAt:     lastActivity,
		LastActivity:  lastActivity,
		ExpiresAt:     time.Now().Add(time.Hour),
		MaxAge:        24 * time.Hour,
		LoginType:     models.LoginTypePassword,
		SecurityLevel: level,
	}
	require.NoError(t, store.Create(context.Background(), session))
	return session
}

func okHandler(sawSession **models.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawSession != nil {
			*sawSession = GetSession(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionMiddleware_NoCredential(t *testing.T) {
	svc, _ := newMiddlewareFixture(t)
	handler := SessionMiddleware(svc, nil)(okHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddleware_ValidSessionReachesHandler(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	seedSession(t, store, models.SecurityLevelStandard, time.Now())

	var got *models.Session
	handler := SessionMiddleware(svc, nil)(okHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "test-session-id"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "test-session-id", got.ID)
	assert.Equal(t, "user-1", got.UserID)
}

func TestSessionMiddleware_HeaderCredentialAccepted(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	seedSession(t, store, models.SecurityLevelStandard, time.Now())

	handler := SessionMiddleware(svc, nil)(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set(HeaderSessionID, "test-session-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionMiddleware_UnknownSession(t *testing.T) {
	svc, _ := newMiddlewareFixture(t)
	handler := SessionMiddleware(svc, nil)(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "no-such-session"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionMiddleware_ExpiredSessionRejectedAndRemoved(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	session := seedSession(t, store, models.SecurityLevelStandard, time.Now())
	store.sessions[session.ID].ExpiresAt = time.Now().Add(-time.Minute)

	handler := SessionMiddleware(svc, nil)(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	_, exists := store.sessions[session.ID]
	assert.False(t, exists, "expired session should be lazily deleted")
}

func TestRequireSecurityLevel_BelowFloor(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	seedSession(t, store, models.SecurityLevelLow, time.Now())

	handler := SessionMiddleware(svc, nil)(
		RequireSecurityLevel(svc, models.SecurityLevelStandard)(okHandler(nil)))

	req := httptest.NewRequest(http.MethodGet, "/sensitive", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "test-session-id"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireSecurityLevel_AtFloor(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	seedSession(t, store, models.SecurityLevelHigh, time.Now())

	handler := SessionMiddleware(svc, nil)(
		RequireSecurityLevel(svc, models.SecurityLevelStandard)(okHandler(nil)))

	req := httptest.NewRequest(http.MethodGet, "/sensitive", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "test-session-id"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSecurityLevel_WithoutSession(t *testing.T) {
	svc, _ := newMiddlewareFixture(t)
	handler := RequireSecurityLevel(svc, models.SecurityLevelStandard)(okHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sensitive", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireFresh_StaleSession(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	// Seed stale, then disable activity tracking semantics by injecting the
	// session directly into context: RequireFresh reads LastActivity as-is
	session := seedSession(t, store, models.SecurityLevelStandard, time.Now().Add(-time.Hour))

	handler := RequireFresh(svc, 15*time.Minute)(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/sensitive", nil)
	ctx := context.WithValue(req.Context(), SessionContextKey, session)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireFresh_RecentSession(t *testing.T) {
	svc, store := newMiddlewareFixture(t)
	session := seedSession(t, store, models.SecurityLevelStandard, time.Now().Add(-5*time.Minute))

	handler := RequireFresh(svc, 15*time.Minute)(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/sensitive", nil)
	ctx := context.WithValue(req.Context(), SessionContextKey, session)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req.WithContext(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
}
