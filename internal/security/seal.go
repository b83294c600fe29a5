package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a configuration value sealed with a Sealer
const SealedPrefix = "enc:"

var ErrNoSecretKey = errors.New("sealed secret found but no secret key is configured")

// Sealer seals configuration secrets with AES-GCM
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a sealer from a base64 key of 16, 24 or 32 bytes. An
// empty key gives a sealer that only passes plain values through.
func NewSealer(keyBase64 string) (*Sealer, error) {
	if keyBase64 == "" {
		return &Sealer{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("invalid key length: %d (must be 16, 24, or 32)", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// GenerateKey returns a new random AES-256 key, base64 encoded
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// Seal returns the sealed form of plaintext, prefixed with SealedPrefix
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s.gcm == nil {
		return "", ErrNoSecretKey
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open returns the plain value of a sealed secret. Values without the
// prefix are returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, SealedPrefix)
	if !ok {
		return value, nil
	}
	if s.gcm == nil {
		return "", ErrNoSecretKey
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := s.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
