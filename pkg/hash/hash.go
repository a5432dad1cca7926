// Package hash pseudonymizes identifiers before they reach logs.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// UserIDLength is the number of hex characters kept by UserID.
const UserIDLength = 12

// SHA256Hex returns the hex-encoded SHA256 hash of the input string.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

// Prefix returns the first prefixLen characters of SHA256(input).
func Prefix(input string, prefixLen int) string {
	full := SHA256Hex(input)
	if prefixLen > len(full) {
		return full
	}
	return full[:prefixLen]
}

// UserID returns a short, stable pseudonym for a platform user id, suitable
// for the user_hash log field. Empty ids stay empty.
func UserID(id string) string {
	if id == "" {
		return ""
	}
	return Prefix(id, UserIDLength)
}
