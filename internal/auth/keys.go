// Package auth compares the shared secrets presented to the controller.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Secret is a configured credential kept only as its hash.
type Secret struct {
	hash string
}

// NewSecret hashes key. A blank key gives a Secret that is not Set.
func NewSecret(key string) Secret {
	if strings.TrimSpace(key) == "" {
		return Secret{}
	}
	return Secret{hash: HashKey(key)}
}

// Set reports whether a credential was configured.
func (s Secret) Set() bool { return s.hash != "" }

// Matches compares presented against the secret in constant time. Hashing
// first keeps the comparison independent of the secret's length.
func (s Secret) Matches(presented string) bool {
	if !s.Set() || strings.TrimSpace(presented) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashKey(presented)), []byte(s.hash)) == 1
}
