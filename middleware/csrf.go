package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const csrfTokenBytes = 32

// GenerateCSRFToken returns a fresh cryptographically random token.
func GenerateCSRFToken() (string, error) {
	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateCSRFToken compares a presented token against the expected one.
// Length is checked first so the constant-time compare runs on equal-sized
// inputs; the compare itself leaks nothing about where a mismatch occurs.
func ValidateCSRFToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	if len(token) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
