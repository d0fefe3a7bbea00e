package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for stored password hashes
const BcryptCost = 12

// SpecialCharacters are the symbols accepted by the special character rule
const SpecialCharacters = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

const (
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	digitChars   = "0123456789"
	allowedChars = upperChars + lowerChars + digitChars + SpecialCharacters
)

// HashPassword generates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password with a bcrypt hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// PasswordPolicy holds the strength rules for new passwords
type PasswordPolicy struct {
	MinLength int
}

// DefaultPasswordPolicy requires 12 characters
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 12}
}

// Problems lists every rule the password breaks
func (p PasswordPolicy) Problems(password string) []string {
	var problems []string

	if len([]rune(password)) < p.MinLength {
		problems = append(problems, fmt.Sprintf("Password must be at least %d characters long", p.MinLength))
	}
	if !strings.ContainsAny(password, upperChars) {
		problems = append(problems, "Password must contain at least one uppercase letter")
	}
	if !strings.ContainsAny(password, lowerChars) {
		problems = append(problems, "Password must contain at least one lowercase letter")
	}
	if !strings.ContainsAny(password, digitChars) {
		problems = append(problems, "Password must contain at least one number")
	}
	if !strings.ContainsAny(password, SpecialCharacters) {
		problems = append(problems, "Password must contain at least one special character")
	}

	return problems
}

// Validate returns a *WeakPasswordError when any rule is broken
func (p PasswordPolicy) Validate(password string) error {
	if problems := p.Problems(password); len(problems) > 0 {
		return &WeakPasswordError{Problems: problems}
	}
	return nil
}

// GeneratePassword returns a random password of length n (minimum 4) with
// at least one character from every required class.
func GeneratePassword(n int) (string, error) {
	if n < 4 {
		n = 4
	}

	out := make([]byte, 0, n)
	for _, set := range []string{upperChars, lowerChars, digitChars, SpecialCharacters} {
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < n {
		c, err := randomChar(allowedChars)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	// Fisher-Yates so the guaranteed characters are not always in front
	for i := len(out) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to shuffle password: %w", err)
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}

	return string(out), nil
}

func randomChar(set string) (byte, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate password: %w", err)
	}
	return set[idx.Int64()], nil
}
