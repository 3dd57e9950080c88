// Package identity authenticates portal users and tracks their sessions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned when an identity/password pair is rejected.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable is returned when the identity backend cannot be reached.
	ErrUnavailable = errors.New("identity service unavailable")

	// ErrInvalidToken is returned when a session token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Record is the public profile of an authenticated user.
type Record struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	EmailVisibility bool      `json:"emailVisibility"`
	Created         time.Time `json:"created"`
}

// AuthResult is a successful password authentication.
type AuthResult struct {
	Token  string
	Record Record
}

// CreateRequest carries the fields of a new account.
type CreateRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	EmailVisibility bool   `json:"emailVisibility"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// FieldError describes why a single field was rejected.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseError is a structured rejection from the identity backend.
type ResponseError struct {
	Status  int
	Message string
	Fields  map[string]FieldError
}

func (e *ResponseError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("identity: %s (%d invalid fields)", e.Message, len(e.Fields))
	}
	return fmt.Sprintf("identity: %s", e.Message)
}

// Provider is an identity backend.
type Provider interface {
	// AuthWithPassword authenticates by username or email.
	AuthWithPassword(ctx context.Context, identity, password string) (*AuthResult, error)
	// Create registers a new account. It does not authenticate it.
	Create(ctx context.Context, req CreateRequest) (*Record, error)
}

// TokenVerifier is implemented by providers that can check their own tokens.
type TokenVerifier interface {
	VerifyToken(token string) error
}
