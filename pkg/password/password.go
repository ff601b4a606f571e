// Package password hashes and verifies user passwords with scrypt.
//
// Hashes are encoded as "hex(salt):hex(key)".
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	saltBytes = 16
	keyBytes  = 64

	costN = 1 << 14
	costR = 8
	costP = 1
)

// Hash derives a salted scrypt key from password.
func Hash(password string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key, err := derive(password, salt)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(key), nil
}

// Verify reports whether password matches the stored hash. A malformed
// stored value never matches.
func Verify(password, stored string) bool {
	saltHex, keyHex, ok := strings.Cut(stored, ":")
	if !ok || saltHex == "" || keyHex == "" {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}

	expected, err := hex.DecodeString(keyHex)
	if err != nil || len(expected) != keyBytes {
		return false
	}

	actual, err := derive(password, salt)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(actual, expected) == 1
}

func derive(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, costN, costR, costP, keyBytes)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}
