// Package auth handles user accounts and request identity: bcrypt
// password storage, HS256 bearer tokens, and the context plumbing that
// carries the authenticated user through a request.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong
	// password so responses do not reveal which one failed.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken is returned for malformed, expired, or
	// wrongly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrEmailTaken is returned when registering an email that
	// already has an account.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrInvalidEmail rejects unparseable email addresses.
	ErrInvalidEmail = errors.New("auth: invalid email address")
	// ErrWeakPassword rejects passwords under eight characters.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// User is one account. The password hash never serializes.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type ctxKey int

const userKey ctxKey = 0

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserFromContext extracts the authenticated user id, if any.
func UserFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userKey).(int64)
	return id, ok
}
