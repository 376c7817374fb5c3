package auth

import (
	"fmt"
	"slices"
	"strings"
)

// Requirement is the access rule attached to a route at registration time.
// A route requires either one of a set of roles or any of a set of
// permissions, never both. The zero Requirement admits nobody.
type Requirement struct {
	roles       []Role
	permissions []Permission
}

// RequireRoles builds a requirement satisfied by any of the given roles.
func RequireRoles(roles ...Role) Requirement {
	r := make([]Role, len(roles))
	copy(r, roles)
	return Requirement{roles: r}
}

// RequirePermissions builds a requirement satisfied when the principal holds
// at least one of the given permissions.
func RequirePermissions(perms ...Permission) Requirement {
	p := make([]Permission, len(perms))
	copy(p, perms)
	return Requirement{permissions: p}
}

// Check admits the principal or returns ErrNoPrincipal / ErrAccessDenied.
// It is a pure predicate over already-loaded principal data.
func (r Requirement) Check(principal *User) error {
	if principal == nil {
		return ErrNoPrincipal
	}

	if len(r.roles) > 0 {
		if slices.Contains(r.roles, principal.Role) {
			return nil
		}
		return fmt.Errorf("%w: requires %s", ErrAccessDenied, r)
	}

	if len(r.permissions) > 0 {
		held := EffectivePermissions(principal)
		if slices.ContainsFunc(r.permissions, func(p Permission) bool { return slices.Contains(held, p) }) {
			return nil
		}
	}

	return fmt.Errorf("%w: requires %s", ErrAccessDenied, r)
}

// String describes the requirement for logs and error messages.
func (r Requirement) String() string {
	switch {
	case len(r.roles) > 0:
		names := make([]string, len(r.roles))
		for i, role := range r.roles {
			names[i] = string(role)
		}
		return "role in {" + strings.Join(names, ",") + "}"
	case len(r.permissions) > 0:
		names := make([]string, len(r.permissions))
		for i, p := range r.permissions {
			names[i] = string(p)
		}
		return "permission in {" + strings.Join(names, ",") + "}"
	default:
		return "nothing"
	}
}
