package rbac

import (
	"errors"
	"fmt"

	"github.com/schoolwelfare/caseboard/pkg/catalog"
)

var (
	ErrUnknownRole     = errors.New("unknown role")
	ErrRoleNotEditable = errors.New("role defaults are not editable")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already provisioned")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// Role is a stakeholder category with a baseline permission policy
type Role string

const (
	RoleSchool     Role = "school"
	RoleCounselor  Role = "counselor"
	RoleProsecutor Role = "prosecutor"
	RoleAdmin      Role = "admin"
	RoleTeacher    Role = "teacher"
)

var roleLabels = map[Role]string{
	RoleSchool:     "Escola",
	RoleCounselor:  "Conselho Tutelar",
	RoleProsecutor: "Ministério Público",
	RoleAdmin:      "Administrador",
	RoleTeacher:    "Professor",
}

var roleOrder = []Role{RoleSchool, RoleCounselor, RoleProsecutor, RoleAdmin, RoleTeacher}

// Roles returns every role in display order
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// ParseRole validates a role identifier
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether the role is known
func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the display label
func (r Role) Label() string {
	if l, ok := roleLabels[r]; ok {
		return l
	}
	return string(r)
}

// Editable reports whether the role's default policy can be changed. The
// admin policy is always "everything".
func (r Role) Editable() bool {
	return r.Valid() && r != RoleAdmin
}

// UnmarshalText rejects unknown roles
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// User is the subset of a directory user this package needs
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
}

// UserPermissions is the grant set held for one user
type UserPermissions struct {
	UserID      string        `json:"userId"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`

	// Customized reports whether the grants differ from the role default
	// as of the last change to this user
	Customized bool `json:"customized"`
}

// Clone returns a deep copy
func (u *UserPermissions) Clone() *UserPermissions {
	return &UserPermissions{
		UserID:      u.UserID,
		Role:        u.Role,
		Permissions: u.Permissions.Clone(),
		Customized:  u.Customized,
	}
}

// Has reports whether the user holds the grant
func (u *UserPermissions) Has(p catalog.Permission) bool {
	return u.Permissions.Has(p)
}
