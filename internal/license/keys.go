package license

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// trustSalt is fixed application-wide; the derived key varies only with
	// the hardware fingerprint, so a cache file is only decryptable on the
	// machine that wrote it.
	trustSalt     = "cardkey_trust_engine_salt"
	kdfIterations = 100_000
	kdfKeyLen     = 32
)

// DeriveTrustKey derives the AES-256 key protecting the trust cache from the
// machine's hardware fingerprint using PBKDF2-HMAC-SHA256.
func DeriveTrustKey(hardwareID string) []byte {
	return pbkdf2.Key([]byte(hardwareID), []byte(trustSalt), kdfIterations, kdfKeyLen, sha256.New)
}
