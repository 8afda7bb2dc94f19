// Copyright (c) 2026 Billora. All rights reserved.
// Author: engineering@billora.app

package sec

// # Identity Roles

// IdentityRole represents the authorization level granted to an identity
// within its tenant workspace.
type IdentityRole string

const (
	// Unrestricted access within the workspace, including billing
	RoleOwner IdentityRole = "owner"

	// Can manage workspace members, quotes, and invoices
	RoleAdmin IdentityRole = "admin"

	// Default role for standard workspace members
	RoleMember IdentityRole = "member"
)

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r IdentityRole) AtLeast(target IdentityRole) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r IdentityRole) level() int {

	// Linear scale (10-30) allows for future intermediate roles
	switch r {
	case RoleOwner:
		return 30
	case RoleAdmin:
		return 20
	case RoleMember:
		return 10
	default:
		return 0
	}
}
