package auth

import (
	"strings"

	"github.com/google/uuid"
)

// Role is the closed set of account kinds.
type Role string

const (
	RoleUser       Role = "user"
	RoleController Role = "controller"
	RoleManager    Role = "manager"
	RoleSuperuser  Role = "superuser"
)

// Officers may issue fines and run shifts.
var Officers = []Role{RoleController, RoleManager, RoleSuperuser}

// ParseRole maps a stored or submitted value to a Role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleController, RoleManager, RoleSuperuser:
		return true
	}
	return false
}

// IsOfficer reports whether r belongs to the enforcement staff.
func (r Role) IsOfficer() bool {
	return r == RoleController || r == RoleManager || r == RoleSuperuser
}

// Authorize reports whether role satisfies any of required. Superuser passes every check.
func Authorize(role Role, required ...Role) bool {
	if !role.Valid() {
		return false
	}
	if role == RoleSuperuser {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller as seen by the services.
type Actor struct {
	ID            uuid.UUID
	Role          Role
	AllowedCities []string
}

// Can is shorthand for Authorize(a.Role, required...).
func (a Actor) Can(required ...Role) bool {
	return Authorize(a.Role, required...)
}

// CanOperateIn reports whether the actor may act on resources of city.
func (a Actor) CanOperateIn(city string) bool {
	if a.Role == RoleSuperuser {
		return true
	}
	if !a.Role.IsOfficer() {
		return false
	}
	city = strings.TrimSpace(city)
	for _, allowed := range a.AllowedCities {
		if strings.EqualFold(strings.TrimSpace(allowed), city) {
			return true
		}
	}
	return false
}
