// Package custody keeps agent wallet keys encrypted at rest.
package custody

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const sealedPrefix = "v1:"

var ErrMalformed = errors.New("custody: malformed sealed value")

// Sealer encrypts key material with AES-256-GCM under a key derived from a
// passphrase via Argon2id. The salt is fixed per deployment so values sealed
// by one process can be opened by another.
type Sealer struct {
	mu  sync.RWMutex
	key []byte // 32 bytes
}

func NewSealer(passphrase, salt string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("salt must be at least 8 bytes")
	}
	return &Sealer{key: deriveKey(passphrase, []byte(salt))}, nil
}

// Seal returns "v1:" + base64(nonce + ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal. The caller owns the returned slice
// and should Zero it when done.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return nil, ErrMalformed
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrMalformed
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Zeroize clears the derived key. Call on shutdown.
func (s *Sealer) Zeroize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	Zero(s.key)
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	s.mu.RLock()
	key := make([]byte, len(s.key))
	copy(key, s.key)
	s.mu.RUnlock()
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
