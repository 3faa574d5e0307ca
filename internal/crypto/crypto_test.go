package crypto

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	k := NewRandomKey()

	for _, size := range []int{0, 1, 15, 16, 17, 1024, 1 << 20} {
		plaintext := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(plaintext)

		ciphertext, err := k.Encrypt(make([]byte, 0, size+Extension), plaintext)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(ciphertext) != size+Extension {
			t.Fatalf("unexpected ciphertext length: got %d, want %d", len(ciphertext), size+Extension)
		}

		out := make([]byte, size)
		n, err := k.Decrypt(out, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if n != size {
			t.Fatalf("Decrypt returned %d bytes, want %d", n, size)
		}
		if !bytes.Equal(out, plaintext) {
			t.Fatalf("round trip mismatch for size %d", size)
		}
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	k := NewRandomKey()
	plaintext := []byte("hello, backup")

	ciphertext, err := k.Encrypt(make([]byte, 0, len(plaintext)+Extension), plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := k.Decrypt(make([]byte, len(plaintext)), ciphertext); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestDecryptTooShort(t *testing.T) {
	k := NewRandomKey()
	if _, err := k.Decrypt(nil, make([]byte, Extension-1)); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestKDFRoundTrip(t *testing.T) {
	salt := NewSalt()
	params := Params{N: 1024, R: 8, P: 1} // cheap parameters for a fast test

	k1, err := KDF(params, salt, "correct horse battery staple")
	if err != nil {
		t.Fatalf("KDF: %v", err)
	}
	k2, err := KDF(params, salt, "correct horse battery staple")
	if err != nil {
		t.Fatalf("KDF: %v", err)
	}
	if k1.EncryptionKey != k2.EncryptionKey {
		t.Fatalf("KDF is not deterministic for identical inputs")
	}

	k3, err := KDF(params, salt, "wrong password")
	if err != nil {
		t.Fatalf("KDF: %v", err)
	}
	if k1.EncryptionKey == k3.EncryptionKey {
		t.Fatalf("different passwords produced the same key")
	}
}
