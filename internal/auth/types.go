package auth

import (
	"errors"
	"net/mail"
	"time"

	"github.com/facilityops/inspection-core/internal/site"
)

// maxEmailLength is the maximum allowed email address length.
const maxEmailLength = 254

// IsValidEmail checks if an email address is well formed and within length limits.
func IsValidEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleAdmin manages users, organisations and all inspection data.
	RoleAdmin Role = "admin"

	// RoleOrganizationManager manages inspections and faults for one organisation.
	RoleOrganizationManager Role = "organization_manager"

	// RoleInspector performs inspections and reports faults.
	RoleInspector Role = "inspector"

	// RoleEntrepreneur owns sites. Principals with this role are loaded
	// together with their owned sites.
	RoleEntrepreneur Role = "entrepreneur"
)

// ValidRoles is the closed set of roles a user account may hold.
var ValidRoles = []Role{RoleAdmin, RoleOrganizationManager, RoleInspector, RoleEntrepreneur}

// IsValidRole returns true if the role is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// User represents an account and, once attached to a request, the
// authenticated principal.
type User struct {
	ID                     string       `json:"id"`
	Email                  string       `json:"email"`
	DisplayName            string       `json:"display_name"`
	PasswordHash           string       `json:"-"` // never serialised
	Role                   Role         `json:"role"`
	Permissions            []Permission `json:"permissions"`
	OrganizationID         string       `json:"organization_id,omitempty"`
	PasswordChangeRequired bool         `json:"password_change_required"`
	CreatedBy              string       `json:"created_by,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`

	// Sites is populated only by LoadPrincipal, and only for entrepreneurs.
	Sites []site.Site `json:"sites,omitempty"`
}

// CredentialSet reports whether the account has completed registration.
func (u *User) CredentialSet() bool {
	return u.PasswordHash != ""
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already exists")
	ErrAlreadyRegistered  = errors.New("registration already complete")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidPermission  = errors.New("invalid permission")
	ErrWeakPassword       = errors.New("password does not meet policy")

	// Request gate failures.
	ErrNoToken                = errors.New("no session token presented")
	ErrTokenInvalid           = errors.New("invalid token")
	ErrPrincipalNotFound      = errors.New("principal no longer exists")
	ErrRegistrationIncomplete = errors.New("registration incomplete")
	ErrPasswordChangeRequired = errors.New("password change required")

	// Authorisation failures.
	ErrNoPrincipal  = errors.New("no authenticated principal")
	ErrAccessDenied = errors.New("access denied")

	// Secret window failures.
	ErrNoInitialSecret = errors.New("initial signing secret is required")
	ErrSecretRotation  = errors.New("secret rotation failed")
)
