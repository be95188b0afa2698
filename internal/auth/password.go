package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost is the default cost for bcrypt hashing.
	bcryptCost = 10
	// minPasswordLength applies to passwords set through Register.
	minPasswordLength = 8
)

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrInvalidPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword compares a bcrypt hashed password with its plaintext version.
// Users without a password never match.
func ComparePassword(hashedPassword, password string) error {
	if hashedPassword == "" {
		return ErrInvalidCredentials
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
