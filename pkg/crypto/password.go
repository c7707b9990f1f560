package crypto

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword produces a salted, slow hash suitable for passwords and
// one-time codes. The output is opaque; verify with CheckPassword.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether plain matches the stored hash.
// The comparison is constant-time.
func CheckPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
