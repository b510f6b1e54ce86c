// Package idgen mints the row UUIDs that give every entity a stable
// identity across audit runs. The minting scheme (hash input -> fixed
// length, fallback to random on collision) follows the same shape as a
// hash-based issue ID generator: derive a short, dense identifier from
// stable inputs, then resolve collisions by perturbing a nonce and
// retrying rather than growing the identifier.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// RowUUIDLength is the fixed width of a row UUID: 8 lowercase hex
// characters.
const RowUUIDLength = 8

// NewRowUUID derives an 8-character lowercase hex identifier from the
// entity's composite key, the time it was first observed, and a nonce. The
// same three inputs always give the same UUID; two audits that first
// observe an entity at different times mint different UUIDs for it.
func NewRowUUID(compositeKey string, firstSeen time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%d|%d", compositeKey, firstSeen.UnixNano(), nonce)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:RowUUIDLength]
}

// RandomRowUUID mints a UUID from pure randomness. Used when no stable seed
// is available (e.g. regenerating after a collision or an operator-cleared
// cell) where re-deriving from the same composite key would just reproduce
// the same collision.
func RandomRowUUID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("idgen: reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf[:])[:RowUUIDLength], nil
}

// Normalize lowercases a UUID read back from a report, undoing any
// autocapitalization a spreadsheet editor may have applied.
func Normalize(uuid string) string {
	out := make([]byte, len(uuid))
	for i := 0; i < len(uuid); i++ {
		c := uuid[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// Valid reports whether s has the shape of a row UUID: exactly
// RowUUIDLength lowercase hex characters. It does not check the history
// store for uniqueness — that is the Identity Service's job.
func Valid(s string) bool {
	if len(s) != RowUUIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
