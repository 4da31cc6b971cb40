package auth

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Roles is a role list stored as JSON text.
type Roles []string

func (r *Roles) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*r = Roles{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("scan roles: unexpected %T", src)
	}
	var roles []string
	if err := json.Unmarshal(b, &roles); err != nil {
		return fmt.Errorf("scan roles: %w", err)
	}
	*r = roles
	return nil
}

func (r Roles) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(r))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

type user struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Roles        Roles  `db:"roles"`
	Active       bool   `db:"active"`
}

// UserContext represents the authenticated user, set by the auth middleware.
type UserContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}
