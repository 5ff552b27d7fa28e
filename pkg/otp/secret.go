package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"strings"
)

// DefaultSecretSize is the number of random bytes drawn by GenerateSecret.
const DefaultSecretSize = 16

var noPadding = base32.StdEncoding.WithPadding(base32.NoPadding)

// decodeSecret restores the padding callers usually strip and decodes the
// RFC 4648 Base32 secret. Authenticator apps often hand out lower-case
// secrets, so the input is upper-cased first.
func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimSpace(secret))
	if n := len(s) % 8; n != 0 {
		s += strings.Repeat("=", 8-n)
	}

	key, err := base32.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: secret must be valid base32: %v", ErrInvalidSecret, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", ErrInvalidSecret)
	}
	return key, nil
}

// RandomSecret draws byteLength bytes from crypto/rand and returns them
// Base32-encoded without trailing padding.
func RandomSecret(byteLength int) (string, error) {
	if byteLength < 1 {
		return "", fmt.Errorf("%w: secret length must be positive, got %d", ErrInvalidConfig, byteLength)
	}

	secret := make([]byte, byteLength)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("otp: failed to generate random secret: %w", err)
	}

	return noPadding.EncodeToString(secret), nil
}

// GenerateSecret generates a cryptographically random secret key of
// DefaultSecretSize bytes, suitable for Config.Secret or New.
func GenerateSecret() (string, error) {
	return RandomSecret(DefaultSecretSize)
}

// VerifySetupKey compares a setup key typed by the user against the stored
// secret in constant time.
func VerifySetupKey(candidate, stored string) bool {
	if stored == "" {
		return false
	}
	return constantTimeEqual(candidate, stored)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
