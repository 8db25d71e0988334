// Copyright (c) 2026 Castellan. All rights reserved.
// Author: platform.security@castellan.io

package sec

// # Account Roles

// Role represents the authorization level granted to an account.
type Role string

const (
	// Unrestricted system access, including lockout clearing
	RoleAdmin Role = "admin"

	// Can manage accounts and asset assignments within their unit
	RoleManager Role = "manager"

	// Can operate on assets and their own credentials
	RoleOperator Role = "operator"

	// Read-only access to inventory views
	RoleViewer Role = "viewer"
)

// IsValid reports whether the role is one of the enumerated values.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r Role) AtLeast(target Role) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r Role) level() int {

	// Linear scale (10-40) allows for future intermediate roles
	switch r {
	case RoleAdmin:
		return 40
	case RoleManager:
		return 30
	case RoleOperator:
		return 20
	case RoleViewer:
		return 10
	default:
		return 0
	}
}
