package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a role string is not one of the portal roles
var ErrUnknownRole = errors.New("unknown role")

// Role represents a portal user role
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleMentor  Role = "mentor"
	RoleAdmin   Role = "admin"
)

// AllRoles returns every role in a stable order
func AllRoles() []Role {
	return []Role{RoleStudent, RoleTeacher, RoleMentor, RoleAdmin}
}

// ParseRole converts a string into a Role. Matching ignores case and surrounding spaces.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleMentor, RoleAdmin:
		return true
	}
	return false
}

// String returns the role name
func (r Role) String() string {
	return string(r)
}

// UnmarshalJSON accepts any casing of a known role
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("role must be a string: %w", err)
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
