package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/facilityops/inspection-core/internal/audit"
	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/mqtt"
	"github.com/facilityops/inspection-core/internal/site"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned whenever a new session token is issued.
type sessionResponse struct {
	Token                  string     `json:"token"`
	TokenType              string     `json:"token_type"`
	ExpiresIn              int        `json:"expires_in"`
	User                   *auth.User `json:"user"`
	PasswordChangeRequired bool       `json:"password_change_required"`
}

type completeRegistrationRequest struct {
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type meResponse struct {
	User        *auth.User        `json:"user"`
	Permissions []auth.Permission `json:"permissions"`
	Sites       []site.Site       `json:"sites,omitempty"`
}

// handleLogin verifies email and password and starts a session.
// Unknown accounts, invited accounts and wrong passwords are
// indistinguishable to the caller.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		s.logger.Error("login lookup failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	if user == nil || !user.CredentialSet() {
		auth.SimulatePasswordCheck(req.Password)
		s.rejectLogin(w, "", "unknown or unregistered account")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "login failed")
		return
	}
	if !ok {
		s.rejectLogin(w, user.ID, "wrong password")
		return
	}

	token, err := s.tokens.IssueFor(user)
	if err != nil {
		s.logger.Error("issuing session token failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.metrics.RecordLogin(true)
	s.logger.Info("user logged in", "user_id", user.ID)
	s.auditLog(audit.ActionLogin, audit.EntitySession, user.ID, user.ID, nil)

	s.writeSession(w, http.StatusOK, token, user)
}

func (s *Server) rejectLogin(w http.ResponseWriter, userID, reason string) {
	s.metrics.RecordLogin(false)
	s.logger.Info("login rejected", "user_id", userID, "reason", reason)
	s.auditLog(audit.ActionLoginFailed, audit.EntitySession, userID, userID, map[string]any{
		"reason": reason,
	})
	writeInvalidCredentials(w)
}

// handleLogout expires the session cookie. Tokens are stateless, so a
// copied token stays valid until it expires or its secret rotates out.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := extractToken(r, s.extractors)
	if claims, err := s.tokens.Verify(token); err == nil {
		s.auditLog(audit.ActionLogout, audit.EntitySession, claims.Subject, claims.Subject, nil)
	}

	s.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the principal, its effective permissions and, for
// entrepreneurs, the sites it owns.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		User:        principal,
		Permissions: auth.EffectivePermissions(principal),
		Sites:       principal.Sites,
	})
}

// handleCompleteRegistration sets the first password of an invited account.
// The gate admits this route before registration is complete.
func (s *Server) handleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())
	if principal.CredentialSet() {
		writeConflict(w, auth.ErrAlreadyRegistered.Error())
		return
	}

	var req completeRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if !s.storePassword(w, r, principal, req.Password) {
		return
	}

	s.logger.Info("registration completed", "user_id", principal.ID)
	s.auditLog(audit.ActionRegistrationComplete, audit.EntityUser, principal.ID, principal.ID, nil)
	s.publishEvent(mqtt.SecurityEvent{Type: mqtt.EventRegistrationCompleted, SubjectID: principal.ID, ActorID: principal.ID})

	s.issueAfterPasswordChange(w, r, principal)
}

// handleChangePassword replaces the password after checking the current one.
// The gate admits this route while a forced change is pending.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := principalFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	ok, err := auth.VerifyPassword(req.CurrentPassword, principal.PasswordHash)
	if err != nil {
		s.logger.Error("password verification failed", "user_id", principal.ID, "error", err)
		writeInternalError(w, "failed to change password")
		return
	}
	if !ok {
		writeInvalidCredentials(w)
		return
	}
	if req.NewPassword == req.CurrentPassword {
		writeValidationError(w, "new password must differ from the current password")
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if !s.storePassword(w, r, principal, req.NewPassword) {
		return
	}

	s.logger.Info("password changed", "user_id", principal.ID, "was_forced", principal.PasswordChangeRequired)
	s.auditLog(audit.ActionPasswordChange, audit.EntityUser, principal.ID, principal.ID, map[string]any{
		"forced": principal.PasswordChangeRequired,
	})
	s.publishEvent(mqtt.SecurityEvent{Type: mqtt.EventPasswordChanged, SubjectID: principal.ID, ActorID: principal.ID})

	s.issueAfterPasswordChange(w, r, principal)
}

// storePassword hashes and saves password, which also clears any forced
// change. It writes the error response and returns false on failure.
func (s *Server) storePassword(w http.ResponseWriter, r *http.Request, principal *auth.User, password string) bool {
	hash, err := auth.HashPassword(password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to store password")
		return false
	}
	if err := s.users.SetPassword(r.Context(), principal.ID, hash); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			s.respondError(w, r, auth.ErrPrincipalNotFound)
			return false
		}
		s.logger.Error("set password failed", "user_id", principal.ID, "error", err)
		writeInternalError(w, "failed to store password")
		return false
	}
	principal.PasswordHash = hash
	principal.PasswordChangeRequired = false
	return true
}

// issueAfterPasswordChange starts a fresh full-lifetime session so the
// caller leaves the restricted state without logging in again.
func (s *Server) issueAfterPasswordChange(w http.ResponseWriter, r *http.Request, principal *auth.User) {
	token, err := s.tokens.IssueFor(principal)
	if err != nil {
		s.logger.Warn("issuing session after password change failed",
			"user_id", principal.ID,
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeSession(w, http.StatusOK, token, principal)
}

func (s *Server) writeSession(w http.ResponseWriter, status int, token string, user *auth.User) {
	s.setSession(w, token)
	writeJSON(w, status, sessionResponse{
		Token:                  token,
		TokenType:              "Bearer",
		ExpiresIn:              int(s.tokens.TTL().Seconds()),
		User:                   user,
		PasswordChangeRequired: user.PasswordChangeRequired,
	})
}
