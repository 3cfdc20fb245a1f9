package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost       = 14 // OWASP 2026 recommendation - stronger than cost 12 (Feb 2026)
	OpaqueTokenBytes = 32 // 256 bits of entropy for session and remember-me tokens
)

// HashPassword hashes a plaintext password for storage.
// Hashing algorithm choice belongs to the external credential store; this
// helper exists for fixtures and the bundled verifier implementation.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword verifies a plaintext password against a stored hash
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// GenerateOpaqueToken returns an unguessable URL-safe token for session ids
// and remember-me credentials
func GenerateOpaqueToken() (string, error) {
	bytes := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// HashToken returns the hex SHA-256 digest of a token. Remember-me tokens
// are only ever stored and compared in this form.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
