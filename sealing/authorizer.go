package sealing

import (
	"context"
	"fmt"
	"time"

	"github.com/medledger/record-vault-backend/interfaces"
)

// RecordAuthorizer validates an access proof against authoritative state.
// Key servers call it independently; they never trust the proof itself.
type RecordAuthorizer interface {
	// Validate returns nil if the proof's requester may decrypt the record
	// owned by identity, and a wrapped ErrPermissionDenied otherwise.
	Validate(ctx context.Context, identity interfaces.PrincipalID, proof interfaces.AccessProof) error
}

// LedgerAuthorizer validates proofs by reading record state from the ledger.
type LedgerAuthorizer struct {
	ledger interfaces.Ledger
	now    func() time.Time
}

// NewLedgerAuthorizer creates an authorizer backed by the given ledger.
func NewLedgerAuthorizer(ledger interfaces.Ledger) *LedgerAuthorizer {
	return &LedgerAuthorizer{ledger: ledger, now: time.Now}
}

// WithClock overrides the time source. Used by tests to exercise expiry.
func (a *LedgerAuthorizer) WithClock(now func() time.Time) *LedgerAuthorizer {
	return &LedgerAuthorizer{ledger: a.ledger, now: now}
}

// Validate checks the proof's requester against current ledger state: record
// owner, a usable permission, or an active emergency grant. Permission
// expiry is evaluated here, at use time.
func (a *LedgerAuthorizer) Validate(ctx context.Context, identity interfaces.PrincipalID, proof interfaces.AccessProof) error {
	state, err := a.ledger.ReadRecord(ctx, proof.RecordID)
	if err != nil {
		return fmt.Errorf("%w: record state unavailable: %v", interfaces.ErrPermissionDenied, err)
	}

	if !state.Owner.Equal(identity) {
		return fmt.Errorf("%w: policy identity does not own record %s", interfaces.ErrPermissionDenied, proof.RecordID)
	}

	requester := proof.Requester
	if requester.Equal(state.Owner) {
		return nil
	}

	if perm := state.UsablePermissionFor(requester, a.now()); perm != nil {
		return nil
	}

	if grant := state.ActiveEmergencyFor(requester); grant != nil {
		return nil
	}

	return fmt.Errorf("%w: no usable permission or emergency grant for %s", interfaces.ErrPermissionDenied, requester)
}
