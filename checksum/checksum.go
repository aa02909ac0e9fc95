// Package checksum computes and verifies content digests for ciphertext
// blobs. The digest recorded on the ledger at registration time must equal
// the digest recomputed at retrieval time; a mismatch signals corruption or
// tampering and is always fatal.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/medledger/record-vault-backend/interfaces"
)

// Digest computes the SHA-256 content digest of data.
func Digest(data []byte) interfaces.Checksum {
	return interfaces.Checksum(sha256.Sum256(data))
}

// Verify reports whether data matches the expected digest.
func Verify(data []byte, expected interfaces.Checksum) bool {
	actual := Digest(data)
	return subtle.ConstantTimeCompare(actual[:], expected[:]) == 1
}

// MustMatch returns a wrapped ErrChecksumMismatch if data does not hash to
// expected. The error carries both digests for the audit log.
func MustMatch(data []byte, expected interfaces.Checksum) error {
	actual := Digest(data)
	if subtle.ConstantTimeCompare(actual[:], expected[:]) != 1 {
		return fmt.Errorf("%w: expected %s, got %s", interfaces.ErrChecksumMismatch, expected, actual)
	}
	return nil
}
