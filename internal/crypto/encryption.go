package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyFileName  = "keyFile"
	saltFileName = "saltFile"

	keyIterations = 4096
	keyLength     = 32
	secretLength  = 16
)

// ErrCiphertext is returned for input that was not produced by Encrypt with
// the same key
var ErrCiphertext = errors.New("invalid ciphertext")

// EncryptionManager encrypts short strings with a key derived from a key
// file and a salt file in a data directory. Missing files are generated on
// first use and made read-only.
type EncryptionManager struct {
	aead cipher.AEAD
}

// NewEncryptionManager loads or creates the key material below dir
func NewEncryptionManager(dir string) (*EncryptionManager, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	password, err := loadOrCreate(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, err
	}
	salt, err := loadOrCreate(filepath.Join(dir, saltFileName))
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(password), []byte(salt), keyIterations, keyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptionManager{aead: aead}, nil
}

// Encrypt returns the hex encoded nonce and ciphertext of raw
func (m *EncryptionManager) Encrypt(raw string) (string, error) {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(raw), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (m *EncryptionManager) Decrypt(encrypted string) (string, error) {
	data, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	n := m.aead.NonceSize()
	if len(data) < n {
		return "", ErrCiphertext
	}
	plain, err := m.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}

func loadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	secret := make([]byte, secretLength)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	value := hex.EncodeToString(secret)
	if err := os.WriteFile(path, []byte(value), 0o400); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return value, nil
}
