// Package util provides utility functions for the GramGate application.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken returns a hex-encoded token built from numBytes of
// cryptographically random data. The resulting string is 2*numBytes long.
// Used for password-reset tokens, so math/rand is not acceptable here.
func GenerateSecureToken(numBytes int) (string, error) {
	if numBytes <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", numBytes)
	}
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSalt returns numBytes of cryptographically random data for use as
// a key-derivation salt.
func GenerateSalt(numBytes int) ([]byte, error) {
	if numBytes <= 0 {
		return nil, fmt.Errorf("salt size must be positive, got %d", numBytes)
	}
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}
