package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	// NonceSize is the GCM nonce length prepended to every sealed frame.
	NonceSize = 12

	// TagSize is the GCM authentication tag length.
	TagSize = 16

	// SealOverhead is the fixed expansion of Seal: nonce plus auth tag.
	SealOverhead = NonceSize + TagSize
)

// ErrMalformedFrame is returned when a sealed frame is too short to contain
// a nonce and tag, or fails authentication.
var ErrMalformedFrame = errors.New("malformed sealed frame")

// Seal encrypts plaintext with AES-256-GCM under key, binding aad as
// additional authenticated data. The result is nonce ‖ ciphertext ‖ tag and
// is exactly SealOverhead bytes longer than the plaintext.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a frame produced by Seal.
func Open(key, sealed, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < SealOverhead {
		return nil, ErrMalformedFrame
	}

	plaintext, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d: must be %d bytes", len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return cipher.NewGCM(block)
}
