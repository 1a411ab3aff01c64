// Package crypto seals withdrawal wallet addresses at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	// KeySize is the required size for AES-256 keys (32 bytes)
	KeySize = 32
	// NonceSize is the size of GCM nonce (12 bytes)
	NonceSize = 12

	prefix = "ENC[v"
)

// Bound into every ciphertext so a sealed value cannot be replayed into a
// different field.
var additionalData = []byte("withdrawal.walletAddress")

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrUnknownVersion    = errors.New("key version not configured")
)

// Sealer encrypts with the newest key version and decrypts with whichever
// version a value was sealed under, so keys can be rotated in place.
type Sealer struct {
	mu      sync.RWMutex
	current int
	aeads   map[int]cipher.AEAD
}

// NewSealer returns a Sealer using key as version 1.
func NewSealer(key []byte) (*Sealer, error) {
	s := &Sealer{aeads: make(map[int]cipher.AEAD)}
	if err := s.AddKey(1, key); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSealerFromHex decodes a 64-character hex key.
func NewSealerFromHex(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode wallet key: %w", err)
	}
	return NewSealer(key)
}

// AddKey registers key under version. The highest version seals new values.
func (s *Sealer) AddKey(version int, key []byte) error {
	if len(key) != KeySize {
		return ErrInvalidKey
	}
	if version <= 0 {
		return fmt.Errorf("key version must be positive, got %d", version)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.aeads[version] = gcm
	if version > s.current {
		s.current = version
	}
	return nil
}

// Seal returns ENC[vN]:base64(nonce+ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	s.mu.RLock()
	version := s.current
	gcm := s.aeads[version]
	s.mu.RUnlock()

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), additionalData)
	return fmt.Sprintf("%s%d]:%s", prefix, version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open reverses Seal. Values without the ENC prefix were stored before
// sealing was enabled and are returned unchanged.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	version := ParseVersion(value)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	idx := strings.Index(value, "]:")
	if idx == -1 {
		return "", ErrInvalidCiphertext
	}

	s.mu.RLock()
	gcm, ok := s.aeads[version]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: v%d", ErrUnknownVersion, version)
	}

	data, err := base64.StdEncoding.DecodeString(value[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], additionalData)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// CurrentVersion returns the key version new values are sealed with.
func (s *Sealer) CurrentVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// ParseVersion extracts the version number from a sealed string.
// Returns 0 if the format is invalid.
func ParseVersion(value string) int {
	if !strings.HasPrefix(value, prefix) {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(value, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	return version
}

// GenerateKey returns a random AES-256 key as hex, the WALLET_KEY format.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// MaskAddress keeps the first and last four characters of a wallet address.
func MaskAddress(addr string) string {
	r := []rune(addr)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + "****" + string(r[len(r)-4:])
}
