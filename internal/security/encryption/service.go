// Package encryption provides authenticated symmetric encryption for stored
// brokerage credentials, keyed by a process-wide master key.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	apperrors "github.com/stockpulse/sentinel/pkg/errors"
)

const (
	keyLen     = 32
	iterations = 100000
)

// derivationSalt is fixed so a passphrase always derives the same key across
// restarts. Durable secrets require either this path or an explicit key.
var derivationSalt = []byte("sentinel_credential_salt_v1")

// Service encrypts and decrypts strings with AES-256-GCM. Each call generates
// a fresh nonce, so two encryptions of the same plaintext never match.
type Service struct {
	masterKey []byte
	ephemeral bool
}

// Option configures the master key source.
type Option func(*Service) error

// WithMasterKey supplies an operator-provided key, base64 (std) encoded,
// decoding to exactly 32 bytes.
func WithMasterKey(encoded string) Option {
	return func(s *Service) error {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("master key decode failed: %w", err)
		}
		if len(key) != keyLen {
			return fmt.Errorf("master key must be %d bytes, got %d", keyLen, len(key))
		}
		s.masterKey = key
		return nil
	}
}

// WithPassphrase derives the master key from a passphrase via PBKDF2-SHA256.
func WithPassphrase(passphrase string) Option {
	return func(s *Service) error {
		if passphrase == "" {
			return fmt.Errorf("passphrase must not be empty")
		}
		s.masterKey = pbkdf2.Key([]byte(passphrase), derivationSalt, iterations, keyLen, sha256.New)
		return nil
	}
}

// NewService builds the encryption service. Without an explicit key or
// passphrase a random key is generated; anything encrypted under it is only
// recoverable within this process lifetime.
func NewService(logger *zap.Logger, opts ...Option) (*Service, error) {
	s := &Service{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.masterKey == nil {
		key := make([]byte, keyLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
		}
		s.masterKey = key
		s.ephemeral = true
		logger.Warn("No master key configured, using ephemeral key; encrypted data will not survive a restart")
	}

	return s, nil
}

// Ephemeral reports whether the master key was generated at startup.
func (s *Service) Ephemeral() bool { return s.ephemeral }

// Encrypt seals plaintext and returns a URL-safe token embedding the nonce.
func (s *Service) Encrypt(plaintext string) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. A malformed token or failed
// authentication tag yields ErrDecryptionFailed; no partial data is returned.
func (s *Service) Decrypt(token string) (string, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: malformed token", apperrors.ErrDecryptionFailed)
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: token too short", apperrors.ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", apperrors.ErrDecryptionFailed)
	}

	return string(plaintext), nil
}

// EncryptMap encrypts every value of a string map, preserving keys.
func (s *Service) EncryptMap(values map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		enc, err := s.Encrypt(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt value for %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptMap decrypts every value of a string map, preserving keys. The first
// failure aborts the whole operation.
func (s *Service) DecryptMap(values map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for k, v := range values {
		dec, err := s.Decrypt(v)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt value for %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}

func (s *Service) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("GCM creation failed: %w", err)
	}
	return gcm, nil
}

// SecureWipe zeroes sensitive data in memory.
func SecureWipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
