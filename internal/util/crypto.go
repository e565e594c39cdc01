package util

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/openclaw/wa-gateway/internal/config"
)

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateApiKey returns a new tenant API key with the gateway's prefix and
// at least config.ApiKeyEntropyBytes of random entropy hex-encoded.
func GenerateApiKey() (string, error) {
	bytes := make([]byte, config.ApiKeyEntropyBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return config.ApiKeyPrefix + hex.EncodeToString(bytes), nil
}
