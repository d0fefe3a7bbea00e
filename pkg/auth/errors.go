package auth

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrRateLimited            = errors.New("too many login attempts")
	ErrWeakPassword           = errors.New("password does not meet requirements")
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrForbidden              = errors.New("forbidden")

	// ErrTokenInvalid wraps every identity verification failure. It is
	// treated as "no identity" and never shown to clients.
	ErrTokenInvalid = errors.New("invalid identity token")

	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrBootstrapRequired = errors.New("bootstrap password hash is required in production")
)

// RateLimitError is returned by Login while the client is throttled
type RateLimitError struct {
	Remaining time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many login attempts, please try again in %d minutes", e.Minutes())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Minutes rounds the remaining time up to whole minutes
func (e *RateLimitError) Minutes() int {
	if e.Remaining <= 0 {
		return 0
	}
	return int(math.Ceil(e.Remaining.Minutes()))
}

// WeakPasswordError lists every unmet password rule
type WeakPasswordError struct {
	Problems []string
}

func (e *WeakPasswordError) Error() string {
	return ErrWeakPassword.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *WeakPasswordError) Unwrap() error { return ErrWeakPassword }
