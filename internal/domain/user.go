package domain

import "time"

// Role — роль пользователя.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleClient Role = "CLIENT"
)

// Valid проверяет роль.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// User — учётная запись. PasswordHash никогда не уходит наружу.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal — аутентифицированный вызывающий.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin сообщает, является ли вызывающий администратором.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
