// Package contenthash computes the deterministic content key shared by the
// dedup path and the embedding cache. Both must agree on normalization or a
// deduped write could miss a cached vector.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns sha256 over the normalized text, hex-encoded. The value
// feeds a unique index shared across instances, so it must be stable; it is
// not used for anything security-sensitive.
func Hash(content string) string {
	h := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(h[:])
}

// Normalize collapses whitespace runs and trims. Case is deliberately
// preserved: "Restart the DB" and "restart the db" are different memories.
func Normalize(content string) string {
	return strings.Join(strings.Fields(content), " ")
}
