package crypto

import (
	"strings"
	"testing"
)

func TestSha256Hex(t *testing.T) {
	got := Sha256Hex([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("Sha256Hex(abc) = %s, want %s", got, want)
	}
	if Sha256Hex([]byte("abc")) != Sha256Hex([]byte("abc")) {
		t.Error("hash must be deterministic")
	}
}

func TestShortCode(t *testing.T) {
	if got := ShortCode("ab12cdef9900"); got != "AB12CD" {
		t.Errorf("ShortCode = %s, want AB12CD", got)
	}
	if got := ShortCode("a1"); got != "A1" {
		t.Errorf("ShortCode on short input = %s, want A1", got)
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	h, err := HashPassword("StrongPw1")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if h == "StrongPw1" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !CheckPassword("StrongPw1", h) {
		t.Error("correct password should verify")
	}
	if CheckPassword("WrongPw1", h) {
		t.Error("wrong password must not verify")
	}
}

func TestHashPassword_Salted(t *testing.T) {
	h1, err := HashPassword("424242")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	h2, err := HashPassword("424242")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same input must differ (salt)")
	}
}

func TestMintShareToken(t *testing.T) {
	raw, hash, err := MintShareToken()
	if err != nil {
		t.Fatalf("MintShareToken failed: %v", err)
	}
	if raw == "" || hash == "" {
		t.Fatal("raw and hash must be non-empty")
	}
	if len(hash) != 64 {
		t.Errorf("tokenHash length = %d, want 64 hex chars", len(hash))
	}
	if strings.Contains(hash, raw) {
		t.Error("hash must not embed the raw token")
	}
	if HashToken(raw) != hash {
		t.Error("HashToken(raw) must reproduce the stored digest")
	}

	raw2, hash2, err := MintShareToken()
	if err != nil {
		t.Fatalf("MintShareToken failed: %v", err)
	}
	if raw == raw2 || hash == hash2 {
		t.Error("two minted tokens must differ")
	}
}

func TestMintOTP(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		otp, err := MintOTP()
		if err != nil {
			t.Fatalf("MintOTP failed: %v", err)
		}
		if len(otp) != 6 {
			t.Fatalf("otp %q is not 6 digits", otp)
		}
		for _, c := range otp {
			if c < '0' || c > '9' {
				t.Fatalf("otp %q contains non-digit", otp)
			}
		}
		if otp[0] == '0' {
			t.Fatalf("otp %q below 100000", otp)
		}
		seen[otp] = true
	}
	if len(seen) < 2 {
		t.Error("50 draws produced a single value; generator looks broken")
	}
}
