package secrets

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte(`{"client_id":"abc","client_secret":"xyz"}`)
	ct, err := box.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ct, []byte("client_secret")) {
		t.Error("ciphertext contains plaintext fragment")
	}

	got, err := box.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	box, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, _ := box.Encrypt([]byte("same plaintext"))
	b, _ := box.Encrypt([]byte("same plaintext"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	box, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct, err := box.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	ct[len(ct)-1] ^= 0xff
	if _, err := box.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("tampered decrypt err = %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsTruncated(t *testing.T) {
	box, err := New("test-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, data := range [][]byte{nil, {}, make([]byte, 5), make([]byte, 12)} {
		if _, err := box.Decrypt(data); !errors.Is(err, ErrDecrypt) {
			t.Errorf("Decrypt(%d bytes) err = %v, want ErrDecrypt", len(data), err)
		}
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	a, _ := New("secret-a")
	b, _ := New("secret-b")

	ct, err := a.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong-key decrypt err = %v, want ErrDecrypt", err)
	}
}
