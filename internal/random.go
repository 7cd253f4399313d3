package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const (
	sessionIDSize = 32
	secretSize    = 32
)

// NewSessionID returns a 256-bit random identifier, base64url without padding.
func NewSessionID() (string, error) {
	return randomToken(sessionIDSize)
}

// ValidSessionID reports whether id has the shape produced by NewSessionID.
// It lets callers reject garbage cookies without a store round trip.
func ValidSessionID(id string) bool {
	if len(id) != base64.RawURLEncoding.EncodedLen(sessionIDSize) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(id)
	return err == nil && len(raw) == sessionIDSize
}

// NewSecret returns a 256-bit random secret, base64url without padding.
func NewSecret() (string, error) {
	return randomToken(secretSize)
}

// HashSecret returns the SHA-256 digest stored in place of a secret.
func HashSecret(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
