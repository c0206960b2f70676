package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// User is the identity record returned by the backend
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      Role   `json:"user_type"`
}

// userWire mirrors the backend payload. IDs may be numeric and the role may come
// as either user_type or role.
type userWire struct {
	ID        json.RawMessage `json:"id"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	UserType  string          `json:"user_type"`
	Role      string          `json:"role"`
}

// UnmarshalJSON decodes a backend user payload
func (u *User) UnmarshalJSON(data []byte) error {
	var w userWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return err
	}

	raw := w.UserType
	if raw == "" {
		raw = w.Role
	}
	role, err := ParseRole(raw)
	if err != nil {
		return fmt.Errorf("user %q: %w", w.Username, err)
	}

	*u = User{
		ID:        id,
		Username:  w.Username,
		Email:     w.Email,
		FirstName: w.FirstName,
		LastName:  w.LastName,
		Role:      role,
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid user id: %s", string(raw))
	}
	return n.String(), nil
}

// FullName returns "First Last", or the username when no first name is set
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// HasRole reports whether the user has any of the given roles
func (u *User) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// Validate checks the user has the fields every view relies on
func (u *User) Validate() error {
	if u.Username == "" {
		return errors.New("username cannot be empty")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, u.Role)
	}
	return nil
}

// Clone returns a copy of the user
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
