package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nexus-stack/nexus-core/internal/fingerprint"
	"github.com/nexus-stack/nexus-core/internal/guard"
	"github.com/nexus-stack/nexus-core/internal/session"
)

// handleLogin authenticates credentials and returns the user with a fresh
// token pair. The device is registered from the request's user agent on
// first sight.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username      string `json:"username"`
		Password      string `json:"password"`
		TwoFactorCode string `json:"two_factor_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	result, err := s.sessions.Login(r.Context(), session.LoginInput{
		Username:      body.Username,
		Password:      body.Password,
		TwoFactorCode: body.TwoFactorCode,
		Fingerprint:   fingerprint.FromRequest(r),
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidCredentials):
			writeUnauthorized(w, "Invalid username or password.")
		case errors.Is(err, session.ErrTwoFactorCode):
			writeUnauthorized(w, "Invalid authentication code.")
		default:
			s.logger.Error("login failed", "error", err)
			writeInternalError(w, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRefresh exchanges a refresh token for a fresh pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), body.RefreshToken, fingerprint.FromRequest(r))
	if err != nil {
		writeGuardError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the calling device's tokens.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	if err := s.sessions.Logout(r.Context(), result.User.ID, result.Device.ID); err != nil {
		s.logger.Error("logout failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

// handleResetInitiate emails a reset code. Always succeeds from the
// client's point of view so the endpoint does not leak which addresses
// exist.
func (s *Server) handleResetInitiate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	if err := s.sessions.InitiateResetPassword(r.Context(), body.Email); err != nil {
		s.logger.Error("reset initiation failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

// handleResetVerify redeems the emailed code for a reset token.
func (s *Server) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Code == "" {
		writeBadRequest(w, "email and code are required")
		return
	}

	token, err := s.sessions.VerifyResetPasswordOTP(r.Context(), body.Email, body.Code)
	if err != nil {
		if errors.Is(err, session.ErrInvalidResetCode) {
			writeUnauthorized(w, "Invalid or expired reset code.")
			return
		}
		s.logger.Error("reset verification failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"reset_token": token})
}

// handleResetComplete sets the new password and revokes all sessions.
func (s *Server) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.ResetToken == "" || body.NewPassword == "" {
		writeBadRequest(w, "email, reset_token and new_password are required")
		return
	}

	if err := s.sessions.ResetPassword(r.Context(), body.Email, body.ResetToken, body.NewPassword); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidResetToken):
			writeUnauthorized(w, "Invalid or expired reset token.")
		case errors.Is(err, guard.ErrWeakPassword):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("password reset failed", "error", err)
			writeInternalError(w, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

// handleTwoFactorEnroll starts TOTP enrolment for the caller.
func (s *Server) handleTwoFactorEnroll(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	enrolment, err := s.sessions.EnrollTwoFactor(r.Context(), result.User.ID)
	if err != nil {
		if errors.Is(err, session.ErrTwoFactorEnrolled) {
			writeBadRequest(w, "Two factor authentication is already enabled.")
			return
		}
		s.logger.Error("two factor enrolment failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, enrolment)
}

// handleTwoFactorConfirm verifies the first code and enables the second
// factor, returning single-use backup codes.
func (s *Server) handleTwoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	codes, err := s.sessions.ConfirmTwoFactor(r.Context(), result.User.ID, body.Code)
	if err != nil {
		if errors.Is(err, session.ErrTwoFactorCode) {
			writeUnauthorized(w, "Invalid authentication code.")
			return
		}
		s.logger.Error("two factor confirmation failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

// handleTwoFactorDisable turns the second factor off after a code check.
func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	result := resultFrom(r.Context())

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	if err := s.sessions.DisableTwoFactor(r.Context(), result.User.ID, body.Code); err != nil {
		if errors.Is(err, session.ErrTwoFactorCode) {
			writeUnauthorized(w, "Invalid authentication code.")
			return
		}
		s.logger.Error("two factor disable failed", "error", err)
		writeInternalError(w, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"disabled": true})
}
