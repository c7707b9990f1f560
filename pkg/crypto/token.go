package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

// MintShareToken generates an opaque signer-authorization token.
// It returns the raw token (transmitted once, never stored) and its
// SHA-256 hex digest, which is the only value that may be persisted.
func MintShareToken() (raw string, tokenHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("crypto: failed to mint token: %w", err)
	}
	raw = base64.URLEncoding.EncodeToString(buf)
	return raw, Sha256Hex([]byte(raw)), nil
}

// HashToken recomputes the storage digest for a raw token presented by
// a client, for lookup against the stored tokenHash.
func HashToken(raw string) string {
	return Sha256Hex([]byte(raw))
}

var otpSpan = big.NewInt(900000)

// MintOTP returns a 6-digit decimal one-time code drawn uniformly
// from [100000, 999999].
func MintOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpan)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to mint otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
