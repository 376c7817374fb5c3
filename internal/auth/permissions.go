package auth

import "sort"

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermSitesRead           Permission = "sites:read"
	PermSitesManage         Permission = "sites:manage"
	PermInspectionsRead     Permission = "inspections:read"
	PermInspectionsManage   Permission = "inspections:manage"
	PermFaultsRead          Permission = "faults:read"
	PermFaultsReport        Permission = "faults:report"
	PermFaultsManage        Permission = "faults:manage"
	PermNotificationsManage Permission = "notifications:manage"
	PermReportsRead         Permission = "reports:read"
	PermUsersManage         Permission = "users:manage"
	PermOrganizationsManage Permission = "organizations:manage"
	PermAuditRead           Permission = "audit:read"
)

// allPermissions is the closed set of known permissions.
var allPermissions = []Permission{
	PermSitesRead,
	PermSitesManage,
	PermInspectionsRead,
	PermInspectionsManage,
	PermFaultsRead,
	PermFaultsReport,
	PermFaultsManage,
	PermNotificationsManage,
	PermReportsRead,
	PermUsersManage,
	PermOrganizationsManage,
	PermAuditRead,
}

// rolePermissions maps each role to the permissions it grants implicitly.
// Per-account grants stored on the user are added on top of these.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: allPermissions,
	RoleOrganizationManager: {
		PermSitesRead,
		PermSitesManage,
		PermInspectionsRead,
		PermInspectionsManage,
		PermFaultsRead,
		PermFaultsManage,
		PermNotificationsManage,
		PermReportsRead,
	},
	RoleInspector: {
		PermSitesRead,
		PermInspectionsRead,
		PermInspectionsManage,
		PermFaultsRead,
		PermFaultsReport,
	},
	RoleEntrepreneur: {
		PermSitesRead,
		PermInspectionsRead,
		PermFaultsRead,
		PermFaultsReport,
		PermReportsRead,
	},
}

// IsValidPermission returns true if the permission is a known capability.
func IsValidPermission(perm Permission) bool {
	for _, p := range allPermissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasPermission returns true if the given role grants the permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}

// EffectivePermissions returns the union of the role's permissions and the
// account's explicit grants, sorted and de-duplicated.
func EffectivePermissions(u *User) []Permission {
	if u == nil {
		return nil
	}
	seen := make(map[Permission]bool)
	var result []Permission
	for _, p := range rolePermissions[u.Role] {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	for _, p := range u.Permissions {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
