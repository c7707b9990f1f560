// Package auth builds the request principal from the access credential
// and gates handlers by role. The credential's tenant and role always
// win over the persisted user row; that is what makes tenant switching
// work without stale database state.
package auth

import "errors"

var (
	ErrUnauthenticated = errors.New("auth: missing or invalid access credential")
	ErrForbidden       = errors.New("auth: role does not permit this operation")
)

// Role is the privilege level carried by an access credential. A user's
// global role lives on the user row (SUPER_ADMIN only there); the role
// inside the active tenant comes from the credential.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleViewer     Role = "VIEWER"
	RoleUser       Role = "USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleViewer, RoleUser:
		return true
	}
	return false
}

// Principal is the per-request identity: who is calling, inside which
// tenant, with what role. Constructed once by Authenticate and passed
// by context; never mutated afterwards.
type Principal struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	TenantID string `json:"tenantId"`
	Role     Role   `json:"role"`
}

// IsSuperAdmin reports unrestricted access.
func (p *Principal) IsSuperAdmin() bool { return p.Role == RoleSuperAdmin }

// Allowed reports whether the principal passes a role gate. SUPER_ADMIN
// passes every gate.
func (p *Principal) Allowed(roles ...Role) bool {
	if p.IsSuperAdmin() {
		return true
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}
