package secrets

import (
	"errors"
	"testing"
)

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestCrypto_RoundTrip(t *testing.T) {
	c, err := New("test-encryption-key")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ct, err := c.Encrypt("whsec_abc123")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if ct == "whsec_abc123" || ct == "" {
		t.Fatalf("ciphertext should differ from plaintext, got %q", ct)
	}

	pt, err := c.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if pt != "whsec_abc123" {
		t.Errorf("round trip mismatch: got %q", pt)
	}
}

func TestCrypto_EmptyPassthrough(t *testing.T) {
	c, _ := New("key")

	ct, err := c.Encrypt("")
	if err != nil || ct != "" {
		t.Errorf("empty plaintext should stay empty, got %q err %v", ct, err)
	}
	pt, err := c.Decrypt("")
	if err != nil || pt != "" {
		t.Errorf("empty ciphertext should stay empty, got %q err %v", pt, err)
	}
}

func TestCrypto_WrongKey(t *testing.T) {
	c1, _ := New("key-one")
	c2, _ := New("key-two")

	ct, _ := c1.Encrypt("secret")
	if _, err := c2.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt with wrong key, got %v", err)
	}
}

func TestCrypto_GarbageCiphertext(t *testing.T) {
	c, _ := New("key")
	if _, err := c.Decrypt("not!valid!base64!"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for garbage input, got %v", err)
	}
	if _, err := c.Decrypt("YWJj"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for truncated input, got %v", err)
	}
}
