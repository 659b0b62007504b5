package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex hashes input with SHA-256 and encodes the digest as lowercase
// hex. Used for idempotency and replay keys where the raw payload must not
// end up in Redis.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
