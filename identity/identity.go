// Package identity derives short salted fingerprints for client
// attributes. The raw values (IP addresses, voter keys, admin tokens)
// never reach the persisted records, only their hashes do.
package identity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hash returns the first 24 hex chars of sha256(salt + ":" + value).
// The truncation keeps stored records compact while staying far beyond
// collision range for the cardinalities involved here.
func Hash(value, salt string) string {
	sum := sha256.Sum256([]byte(salt + ":" + value))
	return hex.EncodeToString(sum[:])[:24]
}

// Equal compares two strings in constant time. Both sides are hashed
// first so lengths never leak.
func Equal(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
