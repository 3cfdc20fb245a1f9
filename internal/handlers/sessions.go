package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
)

// SessionsHandler handles device management for the authenticated user
type SessionsHandler struct {
	sessions *services.SessionService
}

// NewSessionsHandler creates a new SessionsHandler
func NewSessionsHandler(sessions *services.SessionService) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// SessionListItem is one entry in the device list. The session id is never
// returned: possession of an id is possession of the session.
type SessionListItem struct {
	Current bool `json:"current"`
	SessionResponse
}

// List returns the user's active sessions
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	sessions, err := h.sessions.ListUserSessions(r.Context(), session.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to list sessions")
		return
	}

	items := make([]SessionListItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, SessionListItem{
			Current:         s.ID == session.ID,
			SessionResponse: sessionResponse(s),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": items,
	})
}

// DestroyOthers signs out every device except the current one
func (h *SessionsHandler) DestroyOthers(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	removed, err := h.sessions.DestroyAllUserSessions(r.Context(), session.UserID, session.ID, "revoke_other_devices")
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to revoke sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":          "other sessions revoked",
		"sessions_removed": removed,
	})
}

// Destroy revokes one of the user's own sessions by id. The id arrives in
// the URL only for the user's own sessions listed via device management;
// a foreign id destroys nothing.
func (h *SessionsHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	targetID := chi.URLParam(r, "sessionID")
	if targetID == "" {
		pkghttp.WriteBadRequest(w, "session id required")
		return
	}

	// Ownership check: the target must belong to the caller
	owned, err := h.sessions.ListUserSessions(r.Context(), session.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to revoke session")
		return
	}

	found := false
	for _, s := range owned {
		if s.ID == targetID {
			found = true
			break
		}
	}
	if !found {
		pkghttp.WriteNotFound(w, "session not found")
		return
	}

	if err := h.sessions.DestroySession(r.Context(), targetID, "revoked_by_user"); err != nil {
		pkghttp.WriteInternalError(w, "failed to revoke session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "session revoked"})
}
