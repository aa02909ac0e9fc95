package cryptoutils

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// NewDEK generates a fresh 32-byte data encryption key. One DEK is created
// per record write and never reused.
func NewDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}
	return dek, nil
}

// DeriveKey derives a 32-byte key from a secret and context info via
// HKDF-SHA256. Key servers use it to bind share-wrapping keys to a policy
// identity, so a share wrapped for one identity cannot unwrap another's.
func DeriveKey(secret []byte, info ...[]byte) ([]byte, error) {
	var joined []byte
	for _, part := range info {
		joined = append(joined, part...)
	}

	key := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, joined)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
