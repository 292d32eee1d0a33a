package chat

import (
	"fmt"
	"strings"
)

// Role is a membership role. Roles are totally ordered:
// MEMBER < MODERATOR < ADMIN < OWNER.
type Role string

const (
	RoleMember    Role = "MEMBER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
	RoleOwner     Role = "OWNER"
)

// Rank returns the position of r in the hierarchy, 0 for unknown roles
func (r Role) Rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	case RoleOwner:
		return 4
	}
	return 0
}

// AtLeast reports whether r ranks at or above min
func (r Role) AtLeast(min Role) bool { return r.Rank() >= min.Rank() && r.Rank() > 0 }

// Compare returns -1, 0 or 1 as r ranks below, equal to or above o
func (r Role) Compare(o Role) int {
	switch a, b := r.Rank(), o.Rank(); {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ParseRole accepts any casing of a known role name
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if r.Rank() == 0 {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
