package interfaces

import "context"

// WrappedShare is one key server's encrypted share of a record's data
// encryption key, bound to the policy it was wrapped under.
type WrappedShare struct {
	ServerID     string `json:"server_id"`
	ShareIndex   int    `json:"share_index"`
	PolicyDigest [32]byte `json:"policy_digest"`
	Payload      []byte `json:"payload"`
}

// KeyServer is one member of the threshold key-server pool. No single
// server can decrypt alone: at least the policy threshold of them must
// cooperate, and each independently re-validates the caller's on-ledger
// authorization before releasing its share.
type KeyServer interface {
	// ID returns a stable identifier for the server.
	ID() string

	// Wrap encrypts a DEK share under the server's key material, bound to
	// the policy identity.
	Wrap(ctx context.Context, share []byte, shareIndex int, policyDigest [32]byte, identity PrincipalID) (WrappedShare, error)

	// Release re-validates the proof against current ledger state and, if
	// the caller is authorized, unwraps and returns the share. Returns
	// ErrPermissionDenied otherwise.
	Release(ctx context.Context, wrapped WrappedShare, identity PrincipalID, proof AccessProof) ([]byte, error)
}
