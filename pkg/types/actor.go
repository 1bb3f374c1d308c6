package types

import (
	"errors"
	"strings"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
)

// Actor is the pre-validated identity on whose behalf a mutation runs.
type Actor struct {
	ID   string          `json:"id"`
	Role enums.ActorRole `json:"role"`
}

// SystemActor identifies engine-initiated work such as workflow hooks.
func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name, Role: enums.ActorRoleSystem}
}

// Validate rejects empty identities and unknown roles.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("actor id is required")
	}
	if !a.Role.IsValid() {
		return errors.New("actor role is invalid")
	}
	return nil
}

// Is reports whether the actor holds one of roles.
func (a Actor) Is(roles ...enums.ActorRole) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
