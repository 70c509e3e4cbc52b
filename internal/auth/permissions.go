package auth

import "slices"

// Role is an authorisation tier.
type Role string

// Roles, lowest first.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Permission is a named capability.
type Permission string

// Permissions.
const (
	PermConsoleRead   Permission = "console:read"
	PermControlWrite  Permission = "control:write"
	PermActionInvoke  Permission = "action:invoke"
	PermConsoleManage Permission = "console:manage"
	PermAuditRead     Permission = "audit:read"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {PermConsoleRead},
	RoleOperator: {
		PermConsoleRead,
		PermControlWrite,
		PermActionInvoke,
		PermConsoleManage,
	},
	RoleAdmin: {
		PermConsoleRead,
		PermControlWrite,
		PermActionInvoke,
		PermConsoleManage,
		PermAuditRead,
	},
}

// ValidRole reports whether r is a defined role.
func ValidRole(r Role) bool {
	_, ok := rolePermissions[r]
	return ok
}

// HasPermission reports whether role r grants p.
func HasPermission(r Role, p Permission) bool {
	return slices.Contains(rolePermissions[r], p)
}
