package license

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MaskKey masks a card key for logging, keeping only the first and last four
// characters.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// HashKey returns a short stable digest of a card key for audit correlation
// without exposing the key itself.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
