package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/facilityops/inspection-core/internal/audit"
	"github.com/facilityops/inspection-core/internal/auth"
	"github.com/facilityops/inspection-core/internal/infrastructure/mqtt"
)

type createUserRequest struct {
	Email          string            `json:"email"`
	DisplayName    string            `json:"display_name"`
	Role           auth.Role         `json:"role"`
	Permissions    []auth.Permission `json:"permissions,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`

	// Password is optional. Without it the account is invited and must
	// complete registration before the gate admits it anywhere else.
	Password string `json:"password,omitempty"`
}

type createUserResponse struct {
	User *auth.User `json:"user"`

	// InvitationToken lets an invited user reach complete-registration.
	// It is only present for invited accounts and is shown once.
	InvitationToken string `json:"invitation_token,omitempty"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a registered or invited account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	actor := principalFromContext(r.Context())

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.DisplayName == "" {
		req.DisplayName = req.Email
	}
	switch {
	case !auth.IsValidEmail(req.Email):
		writeValidationError(w, "a valid email is required")
		return
	case !auth.IsValidRole(req.Role):
		writeValidationError(w, "role must be one of admin, organization_manager, inspector, entrepreneur")
		return
	}
	for _, p := range req.Permissions {
		if !auth.IsValidPermission(p) {
			writeValidationError(w, "unknown permission: "+string(p))
			return
		}
	}

	user := &auth.User{
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		Role:           req.Role,
		Permissions:    req.Permissions,
		OrganizationID: req.OrganizationID,
		CreatedBy:      actor.ID,
	}

	if req.Password != "" {
		if err := auth.ValidatePassword(req.Password); err != nil {
			writeValidationError(w, err.Error())
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			s.logger.Error("hash password failed", "error", err)
			writeInternalError(w, "failed to create user")
			return
		}
		user.PasswordHash = hash
	}

	if err := s.users.Create(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			writeConflict(w, "email already exists")
		case errors.Is(err, auth.ErrInvalidRole), errors.Is(err, auth.ErrInvalidPermission):
			writeValidationError(w, err.Error())
		default:
			s.logger.Error("create user failed", "error", err)
			writeInternalError(w, "failed to create user")
		}
		return
	}

	resp := createUserResponse{User: user}
	if !user.CredentialSet() {
		token, err := s.tokens.IssueFor(user)
		if err != nil {
			s.logger.Error("issuing invitation token failed", "user_id", user.ID, "error", err)
			writeInternalError(w, "user created but invitation could not be issued")
			return
		}
		resp.InvitationToken = token
	}

	s.logger.Info("user created",
		"user_id", user.ID,
		"role", user.Role,
		"invited", !user.CredentialSet(),
		"created_by", actor.ID,
	)
	s.auditLog(audit.ActionCreate, audit.EntityUser, user.ID, actor.ID, map[string]any{
		"email":   user.Email,
		"role":    user.Role,
		"invited": !user.CredentialSet(),
	})
	s.publishEvent(mqtt.SecurityEvent{Type: mqtt.EventUserCreated, SubjectID: user.ID, ActorID: actor.ID})

	writeJSON(w, http.StatusCreated, resp)
}

// handleGetUser returns a single user by ID.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("get user failed", "error", err)
		writeInternalError(w, "failed to get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account. Outstanding tokens for it stop
// working at the next request, when the principal lookup fails.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := principalFromContext(r.Context())

	if id == actor.ID {
		writeConflict(w, "cannot delete your own account")
		return
	}

	if err := s.users.Delete(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("delete user failed", "error", err)
		writeInternalError(w, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "deleted_by", actor.ID)
	s.auditLog(audit.ActionDelete, audit.EntityUser, id, actor.ID, nil)
	s.publishEvent(mqtt.SecurityEvent{Type: mqtt.EventUserDeleted, SubjectID: id, ActorID: actor.ID})

	w.WriteHeader(http.StatusNoContent)
}

// handleRequirePasswordChange forces the user to change their password
// before the gate admits them to anything but the change-password route.
func (s *Server) handleRequirePasswordChange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := principalFromContext(r.Context())

	if err := s.users.SetPasswordChangeRequired(r.Context(), id, true); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeNotFound(w, "user not found")
			return
		}
		s.logger.Error("forcing password change failed", "error", err)
		writeInternalError(w, "failed to require password change")
		return
	}

	s.logger.Info("password change required", "user_id", id, "required_by", actor.ID)
	s.auditLog(audit.ActionPasswordChangeForced, audit.EntityUser, id, actor.ID, nil)
	s.publishEvent(mqtt.SecurityEvent{Type: mqtt.EventPasswordChangeForced, SubjectID: id, ActorID: actor.ID})

	w.WriteHeader(http.StatusNoContent)
}
