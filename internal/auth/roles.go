package auth

import (
	"errors"
	"fmt"
)

// Role is a fine-grained security role.
type Role string

const (
	// RoleAdmin has every permission, including credential and pairing management.
	RoleAdmin Role = "admin"

	// RoleOperator runs the system day to day but cannot manage credentials or config.
	RoleOperator Role = "operator"

	// RoleViewer is read-only.
	RoleViewer Role = "viewer"

	// RoleChatOnly can only send and read chat.
	RoleChatOnly Role = "chat-only"
)

// ValidRoles lists the security roles from most to least privileged.
var ValidRoles = []Role{RoleAdmin, RoleOperator, RoleViewer, RoleChatOnly}

// ErrInvalidRole is returned when a role string is not one of ValidRoles.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole validates a role string at the system boundary.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is a known security role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer, RoleChatOnly:
		return true
	}
	return false
}

// Rank orders roles by privilege; higher is more privileged. Unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 4
	case RoleOperator:
		return 3
	case RoleViewer:
		return 2
	case RoleChatOnly:
		return 1
	}
	return 0
}

// AtLeast reports whether r is at least as privileged as other.
func (r Role) AtLeast(other Role) bool {
	return r.Valid() && r.Rank() >= other.Rank()
}

func (r Role) String() string { return string(r) }
