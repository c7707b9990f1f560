package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ShortCode derives the human-facing short code from a signature hash:
// the first six hex characters, uppercased.
func ShortCode(signatureHash string) string {
	if len(signatureHash) < 6 {
		return toUpperHex(signatureHash)
	}
	return toUpperHex(signatureHash[:6])
}

func toUpperHex(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'f' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
