// Package token generates the opaque random identifiers used for sessions,
// password reset links and OAuth CSRF state.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	// Bytes is the amount of entropy in every generated token.
	Bytes = 32

	// Length is the hex-encoded length of a generated token.
	Length = Bytes * 2
)

// Generate returns 32 cryptographically random bytes as 64 lowercase hex
// characters.
func Generate() (string, error) {
	b := make([]byte, Bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// GenerateSessionID creates a new session identifier.
func GenerateSessionID() (string, error) {
	return Generate()
}

// IsValid reports whether s has the shape of a generated token.
func IsValid(s string) bool {
	if len(s) != Length {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}
