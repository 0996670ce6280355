package domain

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCredentials is returned for an unknown operator or wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator is an account allowed to use the run API.
type Operator struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"isActive"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastLoginAt  *time.Time `json:"lastLoginAt,omitempty"`
}

// AuthResponse is returned by a successful login.
type AuthResponse struct {
	Token     string    `json:"token"`
	Operator  *Operator `json:"operator"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OperatorRepository stores operator accounts.
type OperatorRepository interface {
	CreateOperator(ctx context.Context, op *Operator) error
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdateLastLogin(ctx context.Context, id string) error
	ListOperators(ctx context.Context) ([]*Operator, error)
}
