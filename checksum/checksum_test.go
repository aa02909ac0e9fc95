package checksum

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/interfaces"
)

func TestDigestDeterministic(t *testing.T) {
	data := []byte("encounter report 2026-08-25")

	first := Digest(data)
	second := Digest(data)
	assert.True(t, first.Equal(second), "same data must produce same digest")

	other := Digest([]byte("encounter report 2026-08-26"))
	assert.False(t, first.Equal(other), "different data must produce different digests")
}

func TestVerify(t *testing.T) {
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	sum := Digest(data)
	assert.True(t, Verify(data, sum))
	assert.NoError(t, MustMatch(data, sum))
}

func TestSingleBitCorruptionDetected(t *testing.T) {
	data := make([]byte, 1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	sum := Digest(data)

	// Flip one bit in every byte position and require detection each time.
	for i := 0; i < len(data); i += 97 {
		corrupted := make([]byte, len(data))
		copy(corrupted, data)
		corrupted[i] ^= 0x01

		assert.False(t, Verify(corrupted, sum), "corruption at byte %d must be detected", i)

		err := MustMatch(corrupted, sum)
		require.Error(t, err)
		assert.ErrorIs(t, err, interfaces.ErrChecksumMismatch)
	}
}

func TestEmptyData(t *testing.T) {
	sum := Digest(nil)
	assert.True(t, Verify(nil, sum))
	assert.True(t, Verify([]byte{}, sum), "nil and empty slices hash identically")
}
