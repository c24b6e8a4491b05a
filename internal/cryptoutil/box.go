package cryptoutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const boxPrefix = "sb1:"

// ErrDecrypt is returned when a sealed value cannot be opened with the key.
var ErrDecrypt = errors.New("cryptoutil: decryption failed")

// Box seals short text values with NaCl secretbox. A nil *Box passes values
// through unchanged, so callers can treat encryption as optional.
type Box struct {
	key [32]byte
}

// NewBox builds a Box from a 32-byte raw key or a 64-character hex key.
func NewBox(key string) (*Box, error) {
	var raw []byte
	switch {
	case len(key) == 64 && IsHexString(key):
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("decoding hex key: %w", err)
		}
		raw = decoded
	case len(key) == 32:
		raw = []byte(key)
	default:
		return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters, got %d", len(key))
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal encrypts plaintext and returns a prefixed base64 string.
func (b *Box) Seal(plaintext string) (string, error) {
	if b == nil || plaintext == "" {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key)
	return boxPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is,
// which lets stores read rows written before encryption was enabled.
func (b *Box) Open(value string) (string, error) {
	if !strings.HasPrefix(value, boxPrefix) {
		return value, nil
	}
	if b == nil {
		return "", ErrDecrypt
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, boxPrefix))
	if err != nil || len(data) < 24 {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	out, ok := secretbox.Open(nil, data[24:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(out), nil
}
