package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// payloadLabel binds ciphertexts to their purpose so a payload encrypted
// for one context cannot be replayed into another.
var payloadLabel = []byte("payment-data")

var (
	ErrInvalidKeySize   = errors.New("encryption key must be 32 bytes")
	ErrDecryptionFailed = errors.New("payload decryption failed")
	ErrMalformedPayload = errors.New("malformed encrypted payload")
)

// Encryptor provides authenticated encryption for opaque provider
// payloads at rest. AES-256-GCM with a per-record random nonce; decryption
// fails closed on tag mismatch.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext || tag).
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, payloadLabel)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a payload produced by Encrypt. Any tampering with the
// ciphertext or the authentication tag yields ErrDecryptionFailed, never
// corrupted plaintext.
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	if len(raw) < e.aead.NonceSize() {
		return nil, ErrMalformedPayload
	}
	nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, payloadLabel)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
