package util

import (
	"bytes"
	"testing"
)

func TestSeal(t *testing.T) {
	key, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey failed: %v", err)
	}
	plaintext := []byte(`{"accessToken":"tok"}`)
	aad := []byte("session:auth-store")

	t.Run("RoundTrip", func(t *testing.T) {
		sealed, err := Seal(plaintext, key, aad)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		opened, err := Open(sealed, key, aad)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(plaintext, opened) {
			t.Errorf("expected %s, got %s", plaintext, opened)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		sealed, _ := Seal(plaintext, key, aad)
		if _, err := Open(sealed, key, []byte("session:other")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCiphertext", func(t *testing.T) {
		sealed, _ := Seal(plaintext, key, aad)
		sealed[len(sealed)-1] ^= 0xFF
		if _, err := Open(sealed, key, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("ShortInput", func(t *testing.T) {
		if _, err := Open([]byte{1, 2, 3}, key, aad); err == nil {
			t.Error("expected error for input shorter than nonce")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, err := Seal(plaintext, []byte("too short"), aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestPassphraseKey(t *testing.T) {
	params := Argon2idParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1}
	salt := []byte("0123456789abcdef")

	k1, err := PassphraseKey("correct horse battery staple", salt, params)
	if err != nil {
		t.Fatalf("PassphraseKey failed: %v", err)
	}
	if len(k1) != KeySize {
		t.Fatalf("expected key length %d, got %d", KeySize, len(k1))
	}

	k2, _ := PassphraseKey("correct horse battery staple", salt, params)
	if !bytes.Equal(k1, k2) {
		t.Error("PassphraseKey should be deterministic")
	}

	// Composed and decomposed forms of the same text derive the same key.
	composed, _ := PassphraseKey("caf\u00e9", salt, params)
	decomposed, _ := PassphraseKey("cafe\u0301", salt, params)
	if !bytes.Equal(composed, decomposed) {
		t.Error("expected NFKD normalization to unify passphrase forms")
	}

	if _, err := PassphraseKey("", salt, params); err == nil {
		t.Error("expected error for empty passphrase")
	}
	if _, err := PassphraseKey("x", nil, params); err == nil {
		t.Error("expected error for empty salt")
	}
}

func TestSubKey(t *testing.T) {
	master := []byte("master key material")

	k1, err := SubKey(master, nil, []byte("session/auth-store"))
	if err != nil {
		t.Fatalf("SubKey failed: %v", err)
	}
	if len(k1) != KeySize {
		t.Errorf("expected key length %d, got %d", KeySize, len(k1))
	}

	k2, _ := SubKey(master, nil, []byte("session/auth-store"))
	if !bytes.Equal(k1, k2) {
		t.Error("SubKey should be deterministic")
	}

	k3, _ := SubKey(master, nil, []byte("session/cookies"))
	if bytes.Equal(k1, k3) {
		t.Error("SubKey should produce different output with different info")
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", copied)
	}
}

func TestRandom(t *testing.T) {
	b1, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b2, _ := RandomBytes(32)
	if bytes.Equal(b1, b2) {
		t.Error("RandomBytes should not repeat")
	}

	h, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex failed: %v", err)
	}
	if len(h) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(h))
	}
}
