package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// EncryptionKeyEnvVar is the environment variable holding the snapshot encryption secret.
	EncryptionKeyEnvVar = "STRATA_STATE_ENCRYPTION_KEY"

	encryptedHeader = "# STRATA_ENCRYPTED_SNAPSHOT\n"
)

// Sealer encrypts snapshots with AES-256-GCM. A nil Sealer passes content through.
type Sealer struct {
	key []byte
}

// NewSealer derives a 32-byte key from secret.
func NewSealer(secret string) *Sealer {
	sum := sha256.Sum256([]byte(secret))
	return &Sealer{key: sum[:]}
}

// SealerFromEnv returns a Sealer keyed by STRATA_STATE_ENCRYPTION_KEY, or nil when unset.
func SealerFromEnv() *Sealer {
	secret := os.Getenv(EncryptionKeyEnvVar)
	if secret == "" {
		return nil
	}
	return NewSealer(secret)
}

// Seal encrypts content. It returns content unchanged when s is nil.
func (s *Sealer) Seal(content []byte) ([]byte, error) {
	if s == nil {
		return content, nil
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, content, nil)
	return []byte(encryptedHeader + base64.StdEncoding.EncodeToString(ciphertext) + "\n"), nil
}

// Open decrypts content if it carries the encrypted header, and returns plain
// content unchanged.
func (s *Sealer) Open(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	if s == nil {
		return nil, fmt.Errorf("snapshot is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := strings.TrimSpace(strings.TrimPrefix(string(content), encryptedHeader))
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted snapshot: %w", err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt snapshot (wrong key?): %w", err)
	}
	return plaintext, nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// IsEncrypted reports whether content carries the encrypted snapshot header.
func IsEncrypted(content []byte) bool {
	return strings.HasPrefix(string(content), encryptedHeader)
}
