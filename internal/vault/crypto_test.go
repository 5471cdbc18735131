package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDeriveKeyDeterminism(t *testing.T) {
	key1 := DeriveKey("process-secret")
	key2 := DeriveKey("process-secret")

	if !bytes.Equal(key1, key2) {
		t.Error("same secret should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, DeriveKey("other-secret")) {
		t.Error("different secrets should produce different keys")
	}
}

func TestNewCipherRejectsEmptySecret(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("process-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	sealed, err := c.Encrypt("ya29.access-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(sealed, envelopePrefix) {
		t.Errorf("sealed = %q, want %q prefix", sealed, envelopePrefix)
	}
	if strings.Contains(sealed, "access-token") {
		t.Error("ciphertext should not contain the plaintext")
	}

	plain, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "ya29.access-token" {
		t.Errorf("plaintext = %q, want %q", plain, "ya29.access-token")
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c, _ := NewCipher("process-secret")
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Error("two encryptions of the same plaintext should differ")
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	c, _ := NewCipher("process-secret")
	sealed, err := c.Encrypt("")
	if err != nil || sealed != "" {
		t.Errorf("Encrypt(\"\") = %q, %v", sealed, err)
	}
	plain, err := c.Decrypt("")
	if err != nil || plain != "" {
		t.Errorf("Decrypt(\"\") = %q, %v", plain, err)
	}
}

func TestDecryptWrongSecret(t *testing.T) {
	c1, _ := NewCipher("secret-one")
	c2, _ := NewCipher("secret-two")

	sealed, _ := c1.Encrypt("token")
	if _, err := c2.Decrypt(sealed); err == nil {
		t.Error("expected error decrypting with a different secret")
	}
}

func TestDecryptMalformed(t *testing.T) {
	c, _ := NewCipher("process-secret")

	for _, in := range []string{"plaintext", "v1:!!!not-base64", "v1:AAAA"} {
		if _, err := c.Decrypt(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decrypt(%q) = %v, want ErrMalformed", in, err)
		}
	}
}

func TestDecryptTampered(t *testing.T) {
	c, _ := NewCipher("process-secret")
	sealed, _ := c.Encrypt("token")

	b := []byte(sealed)
	last := len(b) - 2
	if b[last] == 'A' {
		b[last] = 'B'
	} else {
		b[last] = 'A'
	}
	if _, err := c.Decrypt(string(b)); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}
