package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/medledger/record-vault-backend/interfaces"
)

// SignerRegistry issues and tracks ephemeral signing sessions. It stands in
// for the external authentication collaborator in dev deployments: clients
// open a session, receive the derived identity, and reference it on every
// subsequent call.
type SignerRegistry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	signers map[interfaces.PrincipalID]*KeySigner
}

// NewSignerRegistry creates a registry issuing sessions with the given TTL.
// A zero TTL issues non-expiring sessions.
func NewSignerRegistry(ttl time.Duration) *SignerRegistry {
	return &SignerRegistry{
		ttl:     ttl,
		signers: make(map[interfaces.PrincipalID]*KeySigner),
	}
}

// Issue creates a fresh signing session with the registry's default TTL.
func (r *SignerRegistry) Issue() (*KeySigner, error) {
	return r.IssueTTL(r.ttl)
}

// IssueTTL creates a fresh signing session with an explicit TTL. A zero or
// negative TTL falls back to the registry default.
func (r *SignerRegistry) IssueTTL(ttl time.Duration) (*KeySigner, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	signer, err := NewEphemeralSigner(ttl)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.signers[signer.CurrentIdentity()] = signer
	r.mu.Unlock()

	return signer, nil
}

// SignerFor returns the live session for an identity. Expired sessions are
// dropped and reported as ErrSessionExpired, same as unknown identities so
// callers cannot probe for valid principals.
func (r *SignerRegistry) SignerFor(identity interfaces.PrincipalID) (interfaces.TransactionSigner, error) {
	r.mu.RLock()
	signer, ok := r.signers[identity]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: no session for %s", interfaces.ErrSessionExpired, identity)
	}
	if !signer.IsSessionValid() {
		r.mu.Lock()
		delete(r.signers, identity)
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session for %s lapsed", interfaces.ErrSessionExpired, identity)
	}

	return signer, nil
}
