package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix is the literal prefix every generated bearer token carries.
const KeyPrefix = "gw_"

// keyTokenLen is the total length of a valid token: "gw_" + 32 hex chars.
const keyTokenLen = len(KeyPrefix) + 32

// GenerateKey returns a new raw bearer token: "gw_" followed by 32
// lowercase hex characters (16 random bytes).
func GenerateKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("auth: failed to read random bytes: " + err.Error())
	}
	return KeyPrefix + hex.EncodeToString(b)
}

// HashKey returns the storage form of a raw token: the plain SHA-256
// hex digest. The token's own 128 bits of randomness supply the
// entropy a separate salt would otherwise add.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the first 8 characters of a raw token, the
// only part ever shown again after creation.
func DisplayPrefix(raw string) string {
	if len(raw) < 8 {
		return raw
	}
	return raw[:8]
}

// IsValidFormat reports whether raw has the shape of a token this
// gateway issues, without looking it up in storage.
func IsValidFormat(raw string) bool {
	return strings.HasPrefix(raw, KeyPrefix) && len(raw) == keyTokenLen
}
