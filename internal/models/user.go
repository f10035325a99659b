package models

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the platform role of a participant.
type Role string

const (
	RoleStudent Role = "student"
	RoleMentor  Role = "mentor"
)

// ParseRole normalizes a role name.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", value)
	}
	return role, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleMentor
}

// Counterpart returns the role on the other side of a conversation.
func (r Role) Counterpart() Role {
	if r == RoleMentor {
		return RoleStudent
	}
	return RoleMentor
}

// CurrentUser identifies the local user of the messaging client.
type CurrentUser struct {
	ID   int  `json:"id"`
	Role Role `json:"role"`
}

// Validate checks that the identity is usable.
func (u CurrentUser) Validate() error {
	if u.ID <= 0 {
		return errors.New("current user id must be positive")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("current user role %q is not supported", u.Role)
	}
	return nil
}
