// Package crypto protects personal data stored at rest. Phone numbers are sealed with
// AES-256-GCM and located through a keyed HMAC-SHA256 lookup hash, so the plaintext
// never appears in an index. One-time codes are stored only as HMACs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrKeyLengthInvalid is returned when a master key is not exactly 32 bytes
	ErrKeyLengthInvalid = errors.New("crypto: key must be exactly 32 bytes for AES-256")
	// ErrCiphertextCorrupted is returned when the ciphertext fails base64 decoding or is too short
	ErrCiphertextCorrupted = errors.New("crypto: ciphertext is corrupted or tampered")
	// ErrDecryptionFailed is returned when AES-GCM authentication fails
	ErrDecryptionFailed = errors.New("crypto: decryption operation failed")
	// ErrPassphraseEmpty is returned by FromPassphrase for an empty passphrase
	ErrPassphraseEmpty = errors.New("crypto: passphrase is empty")
)

// passphraseSalt is fixed so the same BANDYAB_ENCRYPTION_KEY always yields the same
// keys; lookup hashes must stay stable across restarts.
var passphraseSalt = []byte("bandyab/field-cipher/v1")

const pbkdf2Iterations = 210000

// FieldCipher seals individual column values and computes lookup hashes
type FieldCipher struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewFieldCipher creates a cipher from a 32-byte master key. Separate encryption and
// MAC keys are derived from it with HKDF.
func NewFieldCipher(masterKey []byte) (*FieldCipher, error) {
	if len(masterKey) != 32 {
		return nil, ErrKeyLengthInvalid
	}

	encKey, err := deriveKey(masterKey, "encrypt")
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey(masterKey, "lookup")
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FieldCipher{aead: aead, macKey: macKey}, nil
}

// FromPassphrase derives the master key from a passphrase with PBKDF2
func FromPassphrase(passphrase string) (*FieldCipher, error) {
	if passphrase == "" {
		return nil, ErrPassphraseEmpty
	}
	key := pbkdf2.Key([]byte(passphrase), passphraseSalt, pbkdf2Iterations, 32, sha256.New)
	return NewFieldCipher(key)
}

func deriveKey(master []byte, purpose string) ([]byte, error) {
	out := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("bandyab "+purpose)), out); err != nil {
		return nil, fmt.Errorf("crypto: failed to derive %s key: %w", purpose, err)
	}
	return out, nil
}

// Seal encrypts plaintext and returns a base64-encoded ciphertext
func (fc *FieldCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, fc.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := fc.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal
func (fc *FieldCipher) Open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	ciphertext, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertextCorrupted
	}
	n := fc.aead.NonceSize()
	if len(ciphertext) < n {
		return "", ErrCiphertextCorrupted
	}
	plaintext, err := fc.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Hash returns the hex HMAC-SHA256 of value under the lookup key. Equal inputs give
// equal hashes, so it can back a unique index.
func (fc *FieldCipher) Hash(value string) string {
	m := hmac.New(sha256.New, fc.macKey)
	m.Write([]byte(value))
	return hex.EncodeToString(m.Sum(nil))
}

// Equal compares two hashes in constant time
func Equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// GenerateKey creates a random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
