package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/medledger/record-vault-backend/interfaces"
)

// KeySigner signs ledger transactions with an ECDSA key. The principal
// identity is the Ethereum-style address derived from the public key, which
// keeps identities consistent between the in-memory ledger and the contract.
type KeySigner struct {
	key       *ecdsa.PrivateKey
	identity  interfaces.PrincipalID
	expiresAt time.Time
}

// NewKeySigner wraps a private key in a signer whose session lasts until
// expiresAt. A zero expiry means the session never expires.
func NewKeySigner(key *ecdsa.PrivateKey, expiresAt time.Time) (*KeySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("nil signing key")
	}

	addr := crypto.PubkeyToAddress(key.PublicKey)
	identity, err := interfaces.NewPrincipalIDFromBytes(addr.Bytes())
	if err != nil {
		return nil, err
	}

	return &KeySigner{key: key, identity: identity, expiresAt: expiresAt}, nil
}

// NewEphemeralSigner generates a fresh key with a session of the given
// duration. Used by the dev server and tests.
func NewEphemeralSigner(sessionTTL time.Duration) (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	var expiresAt time.Time
	if sessionTTL > 0 {
		expiresAt = time.Now().Add(sessionTTL)
	}
	return NewKeySigner(key, expiresAt)
}

// Sign signs the keccak hash of the payload.
func (s *KeySigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if !s.IsSessionValid() {
		return nil, fmt.Errorf("%w: signer for %s", interfaces.ErrSessionExpired, s.identity)
	}

	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	return sig, nil
}

// CurrentIdentity returns the principal the signer acts for.
func (s *KeySigner) CurrentIdentity() interfaces.PrincipalID {
	return s.identity
}

// IsSessionValid reports whether the signing session is still usable.
func (s *KeySigner) IsSessionValid() bool {
	return s.expiresAt.IsZero() || time.Now().Before(s.expiresAt)
}

// PrivateKey exposes the underlying key for transaction options setup.
func (s *KeySigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// ExpiresAt returns the session expiry instant. Zero means no expiry.
func (s *KeySigner) ExpiresAt() time.Time {
	return s.expiresAt
}
