package cryptoutils

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	plaintext := []byte("discharge summary, ward 4")
	aad := []byte("record-context")

	sealed, err := Seal(key, plaintext, aad)
	require.NoError(t, err)
	assert.Equal(t, len(plaintext)+SealOverhead, len(sealed), "sealed frame must carry fixed overhead")

	opened, err := Open(key, sealed, aad)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plaintext, opened))
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"), nil)
	require.NoError(t, err)

	wrongKey := make([]byte, KeySize)
	_, err = rand.Read(wrongKey)
	require.NoError(t, err)

	_, err = Open(wrongKey, sealed, nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"), []byte("context-a"))
	require.NoError(t, err)

	_, err = Open(key, sealed, []byte("context-b"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestOpenRejectsTruncatedFrame(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	_, err = Open(key, make([]byte, SealOverhead-1), nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDeriveKeyDeterministicAndDomainSeparated(t *testing.T) {
	secret := make([]byte, KeySize)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	a1, err := DeriveKey(secret, []byte("identity-a"))
	require.NoError(t, err)
	a2, err := DeriveKey(secret, []byte("identity-a"))
	require.NoError(t, err)
	b, err := DeriveKey(secret, []byte("identity-b"))
	require.NoError(t, err)

	assert.Equal(t, a1, a2, "derivation must be deterministic")
	assert.NotEqual(t, a1, b, "different info must produce different keys")
	assert.Len(t, a1, KeySize)
}
