package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/marmos91/agrisync/internal/logger"
)

const saltSize = 16

// argon2id parameters for passphrase-derived keys. Sized for low-end phones:
// 64 MiB and one pass derives in well under a second.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 2
)

// LoadOrCreateKeyFile loads the device key from path, generating and
// persisting a new random key (mode 0600) on first use.
func LoadOrCreateKeyFile(path string) (*AEAD, error) {
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		return NewAEAD(key)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read device key: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate device key: %w", err)
	}
	if err := writeSecret(path, key); err != nil {
		return nil, err
	}
	logger.Info("Generated new device key", logger.KeyPath, path)
	return NewAEAD(key)
}

// LoadKeyFile loads an existing device key. A missing file yields
// ErrKeyUnavailable rather than a fresh key, for callers that must not
// silently rotate.
func LoadKeyFile(path string) (*AEAD, error) {
	key, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrKeyUnavailable, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device key: %w", err)
	}
	return NewAEAD(key)
}

// FromPassphrase derives the device key with argon2id. The salt is stored
// next to the data at saltPath and created on first use.
func FromPassphrase(passphrase []byte, saltPath string) (*AEAD, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyUnavailable)
	}

	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, fs.ErrNotExist) {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := writeSecret(saltPath, salt); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt file %s is corrupt", saltPath)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return NewAEAD(key)
}

func writeSecret(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}
