package sealing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/vault/shamir"

	"github.com/medledger/record-vault-backend/cryptoutils"
	"github.com/medledger/record-vault-backend/interfaces"
)

// sealedRecordFormat versions the envelope layout.
const sealedRecordFormat = 1

// SealedRecord is the ciphertext envelope uploaded to the blob store: the
// policy, one wrapped DEK share per pool member, and the AEAD-sealed
// payload (nonce ‖ ciphertext ‖ tag, a fixed 28-byte expansion).
type SealedRecord struct {
	Format  int                       `json:"format"`
	Policy  Policy                    `json:"policy"`
	Shares  []interfaces.WrappedShare `json:"shares"`
	Payload []byte                    `json:"payload"`
}

// Marshal serializes the envelope for upload.
func (r *SealedRecord) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope marshal: %v", interfaces.ErrEncryptionFailure, err)
	}
	return data, nil
}

// ParseSealedRecord deserializes and validates a downloaded envelope.
func ParseSealedRecord(data []byte) (*SealedRecord, error) {
	var rec SealedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", interfaces.ErrEncryptionFailure, err)
	}

	if rec.Format != sealedRecordFormat {
		return nil, fmt.Errorf("%w: unsupported envelope format %d", interfaces.ErrEncryptionFailure, rec.Format)
	}
	if len(rec.Shares) == 0 || len(rec.Payload) < cryptoutils.SealOverhead {
		return nil, fmt.Errorf("%w: incomplete envelope", interfaces.ErrEncryptionFailure)
	}
	if rec.Policy.Threshold < 1 || rec.Policy.Threshold > len(rec.Shares) {
		return nil, fmt.Errorf("%w: envelope threshold %d out of range", interfaces.ErrEncryptionFailure, rec.Policy.Threshold)
	}

	return &rec, nil
}

// Gateway seals record payloads under identity-bound policies and unseals
// them with the cooperation of the key-server pool.
type Gateway struct {
	contract interfaces.ContractAddress
	pool     []interfaces.KeyServer
	log      *slog.Logger
}

// NewGateway creates an encryption gateway over the given pool. The pool
// must hold at least two servers so a quorum is meaningful.
func NewGateway(contract interfaces.ContractAddress, pool []interfaces.KeyServer, log *slog.Logger) (*Gateway, error) {
	if len(pool) < 2 {
		return nil, errors.New("key-server pool must have at least 2 members")
	}
	return &Gateway{contract: contract, pool: pool, log: log}, nil
}

// PoolSize returns the number of key servers in the pool.
func (g *Gateway) PoolSize() int {
	return len(g.pool)
}

// Encrypt builds a fresh policy for the identity, seals the payload under a
// new data encryption key, splits the key into Shamir shares, and wraps one
// share per pool member. No single server can reconstruct the key alone.
func (g *Gateway) Encrypt(ctx context.Context, payload []byte, identity interfaces.PrincipalID, threshold int) (*SealedRecord, *Policy, error) {
	start := time.Now()

	policy, err := BuildPolicy(identity, g.contract, threshold)
	if err != nil {
		return nil, nil, err
	}
	if threshold > len(g.pool) {
		return nil, nil, fmt.Errorf("%w: threshold %d exceeds pool size %d", interfaces.ErrPolicy, threshold, len(g.pool))
	}

	dek, err := cryptoutils.NewDEK()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	digest := policy.Digest()
	sealed, err := cryptoutils.Seal(dek, payload, digest[:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	shares, err := splitDEK(dek, len(g.pool), threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	wrapped := make([]interfaces.WrappedShare, 0, len(g.pool))
	for i, server := range g.pool {
		ws, err := server.Wrap(ctx, shares[i], i, digest, identity)
		if err != nil {
			return nil, nil, fmt.Errorf("share wrap failed on %s: %w", server.ID(), err)
		}
		wrapped = append(wrapped, ws)
	}

	g.log.Debug("Record sealed",
		slog.String("identity", identity.String()),
		slog.Int("threshold", threshold),
		slog.Int("pool_size", len(g.pool)),
		slog.Int("payload_size", len(payload)),
		slog.Duration("duration", time.Since(start)))

	return &SealedRecord{
		Format:  sealedRecordFormat,
		Policy:  *policy,
		Shares:  wrapped,
		Payload: sealed,
	}, policy, nil
}

// Decrypt collects at least the policy threshold of shares from the pool and
// unseals the payload. Each contacted server re-validates the proof against
// ledger state; if the quorum cannot be reached because servers denied the
// caller, the result is ErrPermissionDenied.
func (g *Gateway) Decrypt(ctx context.Context, rec *SealedRecord, identity interfaces.PrincipalID, proof interfaces.AccessProof) ([]byte, error) {
	if !rec.Policy.Identity.Equal(identity) {
		return nil, fmt.Errorf("%w: envelope sealed for a different identity", interfaces.ErrPermissionDenied)
	}

	digest := rec.Policy.Digest()
	byServer := make(map[string]interfaces.WrappedShare, len(rec.Shares))
	for _, ws := range rec.Shares {
		byServer[ws.ServerID] = ws
	}

	var (
		released [][]byte
		denied   bool
		lastErr  error
	)

	for _, server := range g.pool {
		if len(released) >= rec.Policy.Threshold {
			break
		}

		ws, ok := byServer[server.ID()]
		if !ok {
			continue
		}
		if ws.PolicyDigest != digest {
			return nil, fmt.Errorf("%w: share bound to a different policy", interfaces.ErrEncryptionFailure)
		}

		share, err := server.Release(ctx, ws, identity, proof)
		if err != nil {
			if errors.Is(err, interfaces.ErrPermissionDenied) {
				denied = true
			}
			lastErr = err
			continue
		}
		released = append(released, share)
	}

	if len(released) < rec.Policy.Threshold {
		if denied {
			return nil, fmt.Errorf("%w: quorum refused share release", interfaces.ErrPermissionDenied)
		}
		return nil, fmt.Errorf("%w: only %d of %d required shares available: %v",
			interfaces.ErrEncryptionFailure, len(released), rec.Policy.Threshold, lastErr)
	}

	dek, err := combineShares(released, rec.Policy.Threshold)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrEncryptionFailure, err)
	}

	payload, err := cryptoutils.Open(dek, rec.Payload, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: payload unseal failed: %v", interfaces.ErrEncryptionFailure, err)
	}

	return payload, nil
}

// splitDEK produces one share per pool member. Shamir requires a threshold
// of at least 2; a threshold of 1 degenerates to every server wrapping the
// full key, which preserves the release-validation path.
func splitDEK(dek []byte, parts, threshold int) ([][]byte, error) {
	if threshold < 2 {
		shares := make([][]byte, parts)
		for i := range shares {
			shares[i] = append([]byte(nil), dek...)
		}
		return shares, nil
	}
	return shamir.Split(dek, parts, threshold)
}

func combineShares(shares [][]byte, threshold int) ([]byte, error) {
	if threshold < 2 {
		return shares[0], nil
	}
	return shamir.Combine(shares)
}
