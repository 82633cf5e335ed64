// Package keystore provides the device key store used to encrypt sensitive
// cache entries at rest. Keys never leave the device and there is no escrow:
// losing the key file makes encrypted entries unreadable, and the entry store
// then treats them as absent.
package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrKeyUnavailable is returned when no key is loaded or the key does not
// authenticate the ciphertext.
var ErrKeyUnavailable = errors.New("device key unavailable")

// KeyStore encrypts and decrypts entry payloads.
type KeyStore interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AEAD is a KeyStore sealing payloads with XChaCha20-Poly1305. The output is
// nonce || ciphertext || tag; the 24-byte random nonce makes reuse
// practically impossible without a counter.
type AEAD struct {
	aead cipher.AEAD
}

var _ KeyStore = (*AEAD)(nil)

// NewAEAD builds a KeyStore from a raw 32-byte key.
func NewAEAD(key []byte) (*AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("device key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise cipher: %w", err)
	}
	return &AEAD{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (k *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, k.aead.NonceSize(), k.aead.NonceSize()+len(plaintext)+k.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt. Any authentication failure is
// reported as ErrKeyUnavailable: from the caller's point of view a wrong key
// and a tampered payload are the same condition.
func (k *AEAD) Decrypt(ciphertext []byte) ([]byte, error) {
	ns := k.aead.NonceSize()
	if len(ciphertext) < ns+k.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrKeyUnavailable)
	}
	plain, err := k.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return plain, nil
}

// Unavailable is the KeyStore used when no device key is configured. Every
// call fails, so encrypted entries are neither written nor read.
type Unavailable struct{}

func (Unavailable) Encrypt([]byte) ([]byte, error) { return nil, ErrKeyUnavailable }
func (Unavailable) Decrypt([]byte) ([]byte, error) { return nil, ErrKeyUnavailable }
