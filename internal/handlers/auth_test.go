package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/services"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

const testPassword = "correct-horse-battery"

// In-memory fakes for the service dependencies

type fakeLedger struct {
	attempts []*models.LoginAttempt
}

func (f *fakeLedger) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeLedger) CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	count := 0
	for _, a := range f.attempts {
		if a.Identifier == identifier && a.Outcome.Failed() && a.AttemptTime.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeLedger) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	count := 0
	for _, a := range f.attempts {
		if a.IPAddress == ip && a.Outcome.Failed() && a.AttemptTime.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeLedger) FailureTimesByIdentifier(ctx context.Context, identifier string, since time.Time, limit int) ([]time.Time, error) {
	return nil, nil
}

func (f *fakeLedger) FailureTimesByIP(ctx context.Context, ip string, since time.Time, limit int) ([]time.Time, error) {
	return nil, nil
}

func (f *fakeLedger) RecentAttempts(ctx context.Context, identifier string, since time.Time) ([]*models.LoginAttempt, error) {
	return nil, nil
}

func (f *fakeLedger) ClearFailures(ctx context.Context, identifier, ip string) error { return nil }

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

type fakeUsers struct {
	byIdentifier map[string]*models.User
}

func (f *fakeUsers) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	u, ok := f.byIdentifier[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range f.byIdentifier {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeUsers) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	for _, u := range f.byIdentifier {
		if u.ID == userID {
			u.TOTPSecret = secret
			return nil
		}
	}
	return models.ErrNotFound
}

type handlerFixture struct {
	handler  *AuthHandler
	sessions *services.SessionService
	store    *fakeStore
	users    *fakeUsers
	ledger   *fakeLedger
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)

	secCfg := config.SecurityConfig{
		LockoutThreshold: 5,
		IPBlockThreshold: 20,
		CaptchaThreshold: 3,
		AttemptWindow:    time.Hour,
		DelayBase:        time.Millisecond,
		DelayMax:         4 * time.Millisecond,
	}
	sessCfg := config.SessionConfig{
		DefaultMaxAge:    24 * time.Hour,
		RememberMeMaxAge: 30 * 24 * time.Hour,
		FreshnessMaxAge:  15 * time.Minute,
		TrackActivity:    true,
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	ledger := &fakeLedger{}
	store := newFakeStore()
	users := &fakeUsers{byIdentifier: map[string]*models.User{
		"alice@example.com": {
			ID:           "user-1",
			Email:        "alice@example.com",
			Name:         "Alice",
			PasswordHash: string(hash),
			Status:       "active",
			IsActive:     true,
		},
	}}

	lockout := services.NewLockoutService(ledger, nil, secCfg, logger, audit)
	sessions := services.NewSessionService(store, nil, sessCfg, false, logger, audit)
	login := services.NewLoginService(users, lockout, sessions, nil, logger, audit)

	return &handlerFixture{
		handler:  NewAuthHandler(login, sessions, nil, auth.CookieConfig{}),
		sessions: sessions,
		store:    store,
		users:    users,
		ledger:   ledger,
	}
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLogin_Success(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.Login(rec, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"`+testPassword+`"}`))

	require.Equal(t, http.StatusOK, rec.Code)

	var body LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "user-1", body.User.ID)
	assert.Equal(t, "alice@example.com", body.User.Email)
	assert.Equal(t, "password", body.Session.LoginType)
	assert.Equal(t, "standard", body.Session.SecurityLevel)

	// The session id travels only in the cookie and header, never the body
	cookie := cookieByName(rec, auth.SessionCookieName)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, cookie.Value, rec.Header().Get(auth.HeaderSessionID))
	assert.NotContains(t, rec.Body.String(), cookie.Value)

	// No remember-me cookie without the flag
	assert.Nil(t, cookieByName(rec, auth.RememberMeCookieName))
}

func TestLogin_IdentifierNormalized(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.Login(rec, postJSON("/auth/login", `{"identifier":"  ALICE@Example.COM ","password":"`+testPassword+`"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_RememberMeSetsTokenCookie(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.Login(rec, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"`+testPassword+`","remember_me":true}`))

	require.Equal(t, http.StatusOK, rec.Code)

	token := cookieByName(rec, auth.RememberMeCookieName)
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Value)
	assert.Equal(t, int((30 * 24 * time.Hour).Seconds()), token.MaxAge)

	marker := cookieByName(rec, auth.RememberMeEnabledCookieName)
	require.NotNil(t, marker)
	assert.Equal(t, "true", marker.Value)

	// Only the hash of the token is stored
	_, stored := fx.store.tokens[token.Value]
	assert.False(t, stored)
	assert.Len(t, fx.store.tokens, 1)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.Login(rec, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"wrong"}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, cookieByName(rec, auth.SessionCookieName))
}

func TestLogin_UnknownUserSameResponse(t *testing.T) {
	fx := newHandlerFixture(t)

	wrongPass := httptest.NewRecorder()
	fx.handler.Login(wrongPass, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"wrong"}`))

	unknown := httptest.NewRecorder()
	fx.handler.Login(unknown, postJSON("/auth/login", `{"identifier":"nobody@example.com","password":"wrong"}`))

	assert.Equal(t, wrongPass.Code, unknown.Code)
	assert.Equal(t, wrongPass.Body.String(), unknown.Body.String())
}

func TestLogin_ValidationFailure(t *testing.T) {
	fx := newHandlerFixture(t)

	cases := map[string]string{
		"missing identifier":   `{"password":"x"}`,
		"missing password":     `{"identifier":"alice@example.com"}`,
		"identifier too short": `{"identifier":"ab","password":"x"}`,
		"malformed json":       `{"identifier":`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			fx.handler.Login(rec, postJSON("/auth/login", body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLogin_SuspendedAccount(t *testing.T) {
	fx := newHandlerFixture(t)
	fx.users.byIdentifier["alice@example.com"].Status = "suspended"

	rec := httptest.NewRecorder()
	fx.handler.Login(rec, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"`+testPassword+`"}`))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogout_DestroysSessionAndClearsCookies(t *testing.T) {
	fx := newHandlerFixture(t)

	login := httptest.NewRecorder()
	fx.handler.Login(login, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"`+testPassword+`"}`))
	sessionID := login.Header().Get(auth.HeaderSessionID)
	require.NotEmpty(t, sessionID)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sessionID})
	rec := httptest.NewRecorder()
	fx.handler.Logout(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	_, exists := fx.store.sessions[sessionID]
	assert.False(t, exists)

	cleared := cookieByName(rec, auth.SessionCookieName)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestLogout_WithoutSessionStillSucceeds(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, cookieByName(rec, auth.SessionCookieName))
}

func TestRefresh_MintsNewSession(t *testing.T) {
	fx := newHandlerFixture(t)

	login := httptest.NewRecorder()
	fx.handler.Login(login, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"`+testPassword+`","remember_me":true}`))
	oldSessionID := login.Header().Get(auth.HeaderSessionID)
	token := cookieByName(login, auth.RememberMeCookieName)
	require.NotNil(t, token)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RememberMeCookieName, Value: token.Value})
	rec := httptest.NewRecorder()
	fx.handler.Refresh(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	newSessionID := rec.Header().Get(auth.HeaderSessionID)
	assert.NotEmpty(t, newSessionID)
	assert.NotEqual(t, oldSessionID, newSessionID)

	// Remembered sessions start at low security
	assert.Equal(t, "low", rec.Header().Get(auth.HeaderSessionSecurityLevel))

	// The token rotates on use
	rotated := cookieByName(rec, auth.RememberMeCookieName)
	require.NotNil(t, rotated)
	assert.NotEqual(t, token.Value, rotated.Value)
}

func TestRefresh_ConsumedTokenRejected(t *testing.T) {
	fx := newHandlerFixture(t)

	login := httptest.NewRecorder()
	fx.handler.Login(login, postJSON("/auth/login", `{"identifier":"alice@example.com","password":"`+testPassword+`","remember_me":true}`))
	token := cookieByName(login, auth.RememberMeCookieName)
	require.NotNil(t, token)

	first := httptest.NewRecorder()
	req1 := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req1.AddCookie(&http.Cookie{Name: auth.RememberMeCookieName, Value: token.Value})
	fx.handler.Refresh(first, req1)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req2.AddCookie(&http.Cookie{Name: auth.RememberMeCookieName, Value: token.Value})
	fx.handler.Refresh(second, req2)

	assert.Equal(t, http.StatusUnauthorized, second.Code)
	// Rejection clears the stale cookies
	cleared := cookieByName(second, auth.RememberMeCookieName)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestRefresh_MissingToken(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.Refresh(rec, postJSON("/auth/refresh", `{}`))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func withSession(r *http.Request, session *models.Session) *http.Request {
	ctx := context.WithValue(r.Context(), auth.SessionContextKey, session)
	return r.WithContext(ctx)
}

func TestLogoutAll_RemovesEverySessionAndToken(t *testing.T) {
	fx := newHandlerFixture(t)

	// Two devices, one with remember-me
	for _, body := range []string{
		`{"identifier":"alice@example.com","password":"` + testPassword + `","remember_me":true}`,
		`{"identifier":"alice@example.com","password":"` + testPassword + `"}`,
	} {
		rec := httptest.NewRecorder()
		fx.handler.Login(rec, postJSON("/auth/login", body))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Len(t, fx.store.sessions, 2)
	require.Len(t, fx.store.tokens, 1)

	var current *models.Session
	for _, s := range fx.store.sessions {
		current = s
		break
	}

	rec := httptest.NewRecorder()
	fx.handler.LogoutAll(rec, withSession(httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil), current))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fx.store.sessions)
	assert.Empty(t, fx.store.tokens)
}

func TestCurrentSession_RequiresAuthentication(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fx.handler.CurrentSession(rec, httptest.NewRequest(http.MethodGet, "/auth/session", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCurrentSession_ReturnsSessionView(t *testing.T) {
	fx := newHandlerFixture(t)
	session := &models.Session{
		ID:            "sess-1",
		UserID:        "user-1",
		LoginType:     models.LoginTypePassword,
		SecurityLevel: models.SecurityLevelStandard,
		MaxAge:        24 * time.Hour,
	}

	rec := httptest.NewRecorder()
	fx.handler.CurrentSession(rec, withSession(httptest.NewRequest(http.MethodGet, "/auth/session", nil), session))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sess-1", rec.Header().Get(auth.HeaderSessionID))
	assert.NotContains(t, rec.Body.String(), "sess-1")
}
