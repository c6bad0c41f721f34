package session

// Roles known to the backend. Matching is exact and case-sensitive and
// there is no hierarchy between them.
const (
	RoleAdmin            = "admin"
	RoleSuperAdmin       = "super_admin"
	RoleCollector        = "collector"
	RoleMunicipalOfficer = "municipal_officer"
)

// HasRole reports whether u holds exactly role.
func HasRole(u *User, role string) bool {
	return u != nil && u.Role == role
}

// HasAnyRole reports whether u holds any of roles. It is false for a nil
// user or an empty role list.
func HasAnyRole(u *User, roles ...string) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}
