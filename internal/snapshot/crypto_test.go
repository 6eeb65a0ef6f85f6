package snapshot

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	if len(salt1) != saltSize {
		t.Errorf("salt length = %d, want %d", len(salt1), saltSize)
	}

	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("generate salt 2: %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Error("two salts should not be equal")
	}
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := DeriveKey("mypassphrase", salt)
	key2 := DeriveKey("mypassphrase", salt)
	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, DeriveKey("otherpassphrase", salt)) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	original := []byte(`{"groceries":[{"name":"Milk","purchases":[]}],"tasks":[]}`)

	sealed, err := Encrypt(original, "test-passphrase-123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(sealed, []byte("Milk")) {
		t.Error("sealed output should not contain plaintext")
	}

	again, _ := Encrypt(original, "test-passphrase-123")
	if bytes.Equal(sealed[:saltSize], again[:saltSize]) {
		t.Error("each encryption should use a fresh salt")
	}

	decrypted, err := Decrypt(sealed, "test-passphrase-123")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(original, decrypted) {
		t.Errorf("decrypted = %q, want %q", decrypted, original)
	}
}

func TestEncryptDecryptEmpty(t *testing.T) {
	sealed, err := Encrypt(nil, "password")
	if err != nil {
		t.Fatalf("encrypt empty: %v", err)
	}
	decrypted, err := Decrypt(sealed, "password")
	if err != nil {
		t.Fatalf("decrypt empty: %v", err)
	}
	if len(decrypted) != 0 {
		t.Errorf("expected empty plaintext, got %d bytes", len(decrypted))
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	sealed, _ := Encrypt([]byte("secret data"), "correct-password")

	if _, err := Decrypt(sealed, "wrong-password"); err == nil {
		t.Fatal("expected error with wrong passphrase")
	}
}

func TestDecryptTampered(t *testing.T) {
	sealed, _ := Encrypt([]byte("secret data"), "password")
	sealed[saltSize+nonceSize+1] ^= 0xFF

	if _, err := Decrypt(sealed, "password"); err == nil {
		t.Fatal("expected error with tampered ciphertext")
	}
}

func TestDecryptTooShort(t *testing.T) {
	_, err := Decrypt([]byte("too short"), "password")
	if !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("err = %v, want ErrCiphertextTooShort", err)
	}
}
