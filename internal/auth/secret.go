package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const deviceSecretBytes = 32

// NewDeviceID returns a fresh, globally unique device identifier.
func NewDeviceID() string {
	return uuid.NewString()
}

// GenerateDeviceSecret returns 32 random bytes as hex
func GenerateDeviceSecret() (string, error) {
	b := make([]byte, deviceSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func constantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
