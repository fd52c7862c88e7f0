package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeviceSecret(t *testing.T) {
	s1, err := GenerateDeviceSecret()
	require.NoError(t, err)
	s2, err := GenerateDeviceSecret()
	require.NoError(t, err)

	decoded, err := hex.DecodeString(s1)
	require.NoError(t, err, "secret should be valid hex")
	assert.Len(t, decoded, 32)
	assert.NotEqual(t, s1, s2)
}

func TestNewDeviceIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewDeviceID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate device id %s", id)
		seen[id] = struct{}{}
	}
}

func TestConstantTimeCompare(t *testing.T) {
	assert.True(t, constantTimeCompare("same", "same"))
	assert.False(t, constantTimeCompare("same", "diff"))
	assert.False(t, constantTimeCompare("a", "ab"))
	assert.False(t, constantTimeCompare("", "x"))
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier("test-secret-at-least-32-characters-long")

	sig, err := v.Sign("web-123", time.Hour)
	require.NoError(t, err)

	assert.True(t, v.Verify("web-123", sig))
	assert.False(t, v.Verify("web-456", sig), "signature is bound to its uid")
	assert.False(t, v.Verify("web-123", sig+"x"))
	assert.False(t, v.Verify("", sig))
	assert.False(t, v.Verify("web-123", ""))

	other := NewJWTVerifier("another-secret-at-least-32-characters")
	assert.False(t, other.Verify("web-123", sig), "foreign signer must be rejected")

	expired, err := v.Sign("web-123", -time.Minute)
	require.NoError(t, err)
	assert.False(t, v.Verify("web-123", expired))
}
