package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"mentorship/internal/apperr"
)

// Role is the side a user occupies in a connection.
type Role string

const (
	RoleStudent Role = "student"
	RoleMentor  Role = "mentor"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStudent, RoleMentor:
		return Role(s), nil
	}
	return "", apperr.Invalid("role must be student or mentor, got %q", s)
}

// Identity is the authenticated actor of a request.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Email  string `json:"email"`
}

type identityKey struct{}

// WithIdentity attaches the authenticated user to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the user attached to ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Require returns the user attached to ctx or apperr.ErrAuthRequired.
func Require(ctx context.Context) (Identity, error) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return Identity{}, apperr.ErrAuthRequired
	}
	return id, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
