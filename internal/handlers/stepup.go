package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/darienwest/gatehouse/internal/auth"
	"github.com/darienwest/gatehouse/internal/models"
	"github.com/darienwest/gatehouse/internal/services"
	pkghttp "github.com/darienwest/gatehouse/pkg/http"
)

// StepUpHandler handles TOTP enrollment and verification for raising a
// session's security level
type StepUpHandler struct {
	users    services.UserDirectory
	sessions *services.SessionService
	totp     *auth.TOTPManager
}

// NewStepUpHandler creates a new StepUpHandler
func NewStepUpHandler(users services.UserDirectory, sessions *services.SessionService, totp *auth.TOTPManager) *StepUpHandler {
	return &StepUpHandler{
		users:    users,
		sessions: sessions,
		totp:     totp,
	}
}

// StepUpVerifyRequest represents the request body for step-up verification
type StepUpVerifyRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// Setup generates a TOTP secret for the authenticated user and returns
// the QR code for authenticator enrollment
func (h *StepUpHandler) Setup(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), session.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to load account")
		return
	}

	secret, qrDataURL, err := h.totp.GenerateSecretWithQR(user.Email)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to generate secret")
		return
	}

	if err := h.users.SetTOTPSecret(r.Context(), user.ID, secret); err != nil {
		pkghttp.WriteInternalError(w, "failed to store secret")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":  secret,
		"qr_code": qrDataURL,
	})
}

// Verify checks a TOTP code and elevates the session to high security on
// success
func (h *StepUpHandler) Verify(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSession(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "authentication required")
		return
	}

	var req StepUpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.GetByID(r.Context(), session.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "failed to load account")
		return
	}

	if user.TOTPSecret == "" {
		pkghttp.WriteBadRequest(w, "step-up verification is not set up")
		return
	}

	if !h.totp.ValidateCode(user.TOTPSecret, req.Code) {
		pkghttp.WriteUnauthorized(w, "invalid verification code")
		return
	}

	if err := h.sessions.ElevateSession(r.Context(), session.ID, models.SecurityLevelHigh); err != nil {
		pkghttp.WriteInternalError(w, "failed to elevate session")
		return
	}

	session.SecurityLevel = models.SecurityLevelHigh
	auth.WriteSessionHeaders(w, session)

	writeJSON(w, http.StatusOK, map[string]string{
		"message":        "session elevated",
		"security_level": string(models.SecurityLevelHigh),
	})
}
