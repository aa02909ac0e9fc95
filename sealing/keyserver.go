package sealing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medledger/record-vault-backend/cryptoutils"
	"github.com/medledger/record-vault-backend/interfaces"
)

// PolicyKeyServer is one member of the threshold pool. It holds a server
// secret that never leaves the process and releases wrapped shares only
// after its authorizer confirms the caller against ledger state.
type PolicyKeyServer struct {
	id         string
	secret     []byte
	authorizer RecordAuthorizer
	log        *slog.Logger
}

// NewPolicyKeyServer creates a key server with the given identity and
// secret. The secret must be at least 32 bytes.
func NewPolicyKeyServer(id string, secret []byte, authorizer RecordAuthorizer, log *slog.Logger) (*PolicyKeyServer, error) {
	if len(secret) < cryptoutils.KeySize {
		return nil, errors.New("key server secret must be at least 32 bytes")
	}
	if authorizer == nil {
		return nil, errors.New("key server requires an authorizer")
	}

	owned := make([]byte, len(secret))
	copy(owned, secret)

	return &PolicyKeyServer{
		id:         id,
		secret:     owned,
		authorizer: authorizer,
		log:        log,
	}, nil
}

// NewRandomKeyServer creates a key server with a freshly generated secret.
// Used by the dev server to stand up a local pool.
func NewRandomKeyServer(id string, authorizer RecordAuthorizer, log *slog.Logger) (*PolicyKeyServer, error) {
	secret := make([]byte, cryptoutils.KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate server secret: %w", err)
	}
	return NewPolicyKeyServer(id, secret, authorizer, log)
}

// ID returns the server identifier.
func (s *PolicyKeyServer) ID() string {
	return s.id
}

// wrapKey derives the share-wrapping key for a policy identity. Binding the
// derivation to identity and policy digest means a share wrapped for one
// record cannot be released against another.
func (s *PolicyKeyServer) wrapKey(identity interfaces.PrincipalID, policyDigest [32]byte, shareIndex int) ([]byte, error) {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(shareIndex))
	return cryptoutils.DeriveKey(s.secret, identity.Bytes(), policyDigest[:], idx[:], []byte("share-wrap"))
}

// Wrap encrypts a DEK share under the server's key material.
func (s *PolicyKeyServer) Wrap(ctx context.Context, share []byte, shareIndex int, policyDigest [32]byte, identity interfaces.PrincipalID) (interfaces.WrappedShare, error) {
	key, err := s.wrapKey(identity, policyDigest, shareIndex)
	if err != nil {
		return interfaces.WrappedShare{}, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	payload, err := cryptoutils.Seal(key, share, policyDigest[:])
	if err != nil {
		return interfaces.WrappedShare{}, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	return interfaces.WrappedShare{
		ServerID:     s.id,
		ShareIndex:   shareIndex,
		PolicyDigest: policyDigest,
		Payload:      payload,
	}, nil
}

// Release re-validates the proof against ledger state and unwraps the share
// if the caller is authorized. Denials are logged with the requester so
// operators can correlate them with audit events.
func (s *PolicyKeyServer) Release(ctx context.Context, wrapped interfaces.WrappedShare, identity interfaces.PrincipalID, proof interfaces.AccessProof) ([]byte, error) {
	if wrapped.ServerID != s.id {
		return nil, fmt.Errorf("%w: share belongs to server %s", interfaces.ErrEncryptionFailure, wrapped.ServerID)
	}

	if err := s.authorizer.Validate(ctx, identity, proof); err != nil {
		s.log.Warn("Share release denied",
			slog.String("server_id", s.id),
			slog.String("requester", proof.Requester.String()),
			slog.String("record_id", proof.RecordID.String()),
			"err", err)
		return nil, err
	}

	key, err := s.wrapKey(identity, wrapped.PolicyDigest, wrapped.ShareIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	share, err := cryptoutils.Open(key, wrapped.Payload, wrapped.PolicyDigest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: share unwrap failed: %v", interfaces.ErrEncryptionFailure, err)
	}

	s.log.Debug("Share released",
		slog.String("server_id", s.id),
		slog.String("requester", proof.Requester.String()),
		slog.Int("share_index", wrapped.ShareIndex))

	return share, nil
}
