package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darienwest/gatehouse/internal/models"
)

func seedDevice(t *testing.T, fx *handlerFixture, id, userID string) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:            id,
		UserID:        userID,
		CreatedAt:     time.Now(),
		LastActivity:  time.Now(),
		ExpiresAt:     time.Now().Add(24 * time.Hour),
		MaxAge:        24 * time.Hour,
		LoginType:     models.LoginTypePassword,
		SecurityLevel: models.SecurityLevelStandard,
	}
	require.NoError(t, fx.store.Create(context.Background(), session))
	return session
}

func TestSessionsList_MarksCurrentWithoutIDs(t *testing.T) {
	fx := newHandlerFixture(t)
	handler := NewSessionsHandler(fx.sessions)

	current := seedDevice(t, fx, "sess-current", "user-1")
	seedDevice(t, fx, "sess-other", "user-1")
	seedDevice(t, fx, "sess-foreign", "user-2")

	rec := httptest.NewRecorder()
	handler.List(rec, withSession(httptest.NewRequest(http.MethodGet, "/sessions", nil), current))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sessions []SessionListItem `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Sessions, 2)

	currentCount := 0
	for _, item := range body.Sessions {
		if item.Current {
			currentCount++
		}
	}
	assert.Equal(t, 1, currentCount)

	// Session ids never appear in the device list
	raw := rec.Body.String()
	assert.NotContains(t, raw, "sess-current")
	assert.NotContains(t, raw, "sess-other")
}

func TestSessionsList_Unauthenticated(t *testing.T) {
	fx := newHandlerFixture(t)
	handler := NewSessionsHandler(fx.sessions)

	rec := httptest.NewRecorder()
	handler.List(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionsDestroyOthers_KeepsCurrent(t *testing.T) {
	fx := newHandlerFixture(t)
	handler := NewSessionsHandler(fx.sessions)

	current := seedDevice(t, fx, "sess-current", "user-1")
	seedDevice(t, fx, "sess-a", "user-1")
	seedDevice(t, fx, "sess-b", "user-1")
	seedDevice(t, fx, "sess-foreign", "user-2")

	rec := httptest.NewRecorder()
	handler.DestroyOthers(rec, withSession(httptest.NewRequest(http.MethodPost, "/sessions/revoke-others", nil), current))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		SessionsRemoved int64 `json:"sessions_removed"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(2), body.SessionsRemoved)

	_, currentAlive := fx.store.sessions["sess-current"]
	assert.True(t, currentAlive)
	_, foreignAlive := fx.store.sessions["sess-foreign"]
	assert.True(t, foreignAlive, "other users' sessions are untouched")
}

func destroyRequest(session *models.Session, targetID string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+targetID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("sessionID", targetID)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	return withSession(req, session)
}

func TestSessionsDestroy_OwnSession(t *testing.T) {
	fx := newHandlerFixture(t)
	handler := NewSessionsHandler(fx.sessions)

	current := seedDevice(t, fx, "sess-current", "user-1")
	seedDevice(t, fx, "sess-other", "user-1")

	rec := httptest.NewRecorder()
	handler.Destroy(rec, destroyRequest(current, "sess-other"))

	assert.Equal(t, http.StatusOK, rec.Code)
	_, exists := fx.store.sessions["sess-other"]
	assert.False(t, exists)
}

func TestSessionsDestroy_ForeignSessionNotFound(t *testing.T) {
	fx := newHandlerFixture(t)
	handler := NewSessionsHandler(fx.sessions)

	current := seedDevice(t, fx, "sess-current", "user-1")
	seedDevice(t, fx, "sess-foreign", "user-2")

	rec := httptest.NewRecorder()
	handler.Destroy(rec, destroyRequest(current, "sess-foreign"))

	// A foreign id looks no different from a nonexistent one
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, exists := fx.store.sessions["sess-foreign"]
	assert.True(t, exists)
}

func TestSessionsDestroy_MissingID(t *testing.T) {
	fx := newHandlerFixture(t)
	handler := NewSessionsHandler(fx.sessions)

	current := seedDevice(t, fx, "sess-current", "user-1")

	rec := httptest.NewRecorder()
	handler.Destroy(rec, destroyRequest(current, ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
