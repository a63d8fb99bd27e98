package domain

import "time"

// Role is the authorization role carried in session claims.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// User represents an operator account. Users relate to access keys through a
// many-to-many binding; the same-tenant rule for bindings is enforced at the
// binding step, not here.
type User struct {
	ID           string
	Name         string
	Nickname     string // unique login handle
	PasswordHash string // bcrypt, never returned in API responses
	Phone        string
	Role         Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepository defines data access for users
type UserRepository interface {
	Create(user *User) error
	GetByID(id string) (*User, error)
	GetByNickname(nickname string) (*User, error)
	Update(user *User) error
	Delete(id string) error
	List() ([]*User, error)
}
