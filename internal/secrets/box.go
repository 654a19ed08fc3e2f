// Package secrets provides authenticated encryption for credential blobs
// using a key derived from a single process-wide secret.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// keyLen is the derived AES-256 key length in bytes.
	keyLen = 32
)

// keySalt is a fixed application salt. The secret itself is the only
// confidential input; the salt just domain-separates the derived key from
// any other use of the same secret.
const keySalt = "calgate.credential-vault.v1"

// ErrDecrypt is returned when a ciphertext is malformed, truncated, or fails
// authentication. Callers must treat this as "stored data unusable", never
// as a partial result.
var ErrDecrypt = errors.New("secrets: decryption failed")

// Box encrypts and decrypts opaque byte payloads with AES-256-GCM.
// Ciphertext layout: [12-byte nonce][ciphertext+GCM tag]. A random nonce is
// generated per encryption, so identical plaintexts produce different
// ciphertexts.
type Box struct {
	gcm cipher.AEAD
}

// New derives the encryption key from secret and returns a ready Box.
// It fails when the secret is empty; callers are expected to treat that as
// a fatal startup error rather than continuing without encryption at rest.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("secrets: encryption secret is not configured")
	}

	key, err := scrypt.Key([]byte(secret), []byte(keySalt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	zeroKey(key)

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Box{gcm: gcm}, nil
}

// Encrypt seals plaintext with a fresh random nonce.
// Returns [12-byte nonce][ciphertext+tag].
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := b.gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)
	return out, nil
}

// Decrypt opens a payload produced by Encrypt. Any tampering, truncation, or
// key mismatch yields ErrDecrypt.
func (b *Box) Decrypt(data []byte) ([]byte, error) {
	nonceSize := b.gcm.NonceSize()
	if len(data) <= nonceSize {
		return nil, ErrDecrypt
	}

	plaintext, err := b.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// zeroKey overwrites key material after the cipher has copied it internally.
func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
