package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const secretBoxKeySize = 32

var ErrSecretBoxOpen = errors.New("secret box: cannot open value")

// SecretBox encrypts small secrets (relay passwords) at rest
type SecretBox interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type NaClSecretBox struct {
	key [secretBoxKeySize]byte
}

// NewSecretBox takes a base64 encoded 32 byte key
func NewSecretBox(encodedKey string) (*NaClSecretBox, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secret box key is not base64: %w", err)
	}
	if len(raw) != secretBoxKeySize {
		return nil, fmt.Errorf("secret box key must be %d bytes, got %d", secretBoxKeySize, len(raw))
	}
	b := &NaClSecretBox{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal returns base64(nonce || box)
func (b *NaClSecretBox) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (b *NaClSecretBox) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24+secretbox.Overhead {
		return "", ErrSecretBoxOpen
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return "", ErrSecretBoxOpen
	}
	return string(plain), nil
}
