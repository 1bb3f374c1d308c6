package enums

import (
	"fmt"
	"strings"
)

// ActorRole is the role carried by an authenticated actor.
type ActorRole string

const (
	ActorRoleResident ActorRole = "resident"
	ActorRoleStaff    ActorRole = "staff"
	ActorRoleAdmin    ActorRole = "admin"
	// ActorRoleSystem is used for engine-initiated mutations such as workflow hooks.
	ActorRoleSystem ActorRole = "system"
)

var validActorRoles = []ActorRole{
	ActorRoleResident,
	ActorRoleStaff,
	ActorRoleAdmin,
	ActorRoleSystem,
}

// IsValid reports whether the role is recognised.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validActorRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
