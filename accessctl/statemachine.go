package accessctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medledger/record-vault-backend/interfaces"
)

// mutationAttempts bounds retries against ledger version conflicts.
const mutationAttempts = 3

// StateMachine drives the authorization lifecycle of record access. It holds
// no per-caller state: identity and claimed capabilities arrive in the
// CallerContext of every call, and capability claims are re-validated
// against the ledger before use.
type StateMachine struct {
	ledger interfaces.Ledger
	log    *slog.Logger
	now    func() time.Time
}

// NewStateMachine creates the state machine over a ledger.
func NewStateMachine(ledger interfaces.Ledger, log *slog.Logger) *StateMachine {
	return &StateMachine{ledger: ledger, log: log, now: time.Now}
}

// WithClock overrides the time source. Used by tests to exercise expiry.
func (sm *StateMachine) WithClock(now func() time.Time) *StateMachine {
	return &StateMachine{ledger: sm.ledger, log: sm.log, now: now}
}

func (sm *StateMachine) checkSigner(caller interfaces.CallerContext, signer interfaces.TransactionSigner) error {
	if signer == nil || !signer.IsSessionValid() {
		return fmt.Errorf("%w: signing session", interfaces.ErrSessionExpired)
	}
	if !signer.CurrentIdentity().Equal(caller.Signer) {
		return fmt.Errorf("%w: signer does not match caller identity", interfaces.ErrPermissionDenied)
	}
	return nil
}

// withRecord re-reads the record and applies the mutation until it lands on
// a fresh version or the attempt budget runs out.
func (sm *StateMachine) withRecord(ctx context.Context, recordID interfaces.RecordID, fn func(state *interfaces.RecordState) error) error {
	var lastErr error
	for attempt := 1; attempt <= mutationAttempts; attempt++ {
		state, err := sm.ledger.ReadRecord(ctx, recordID)
		if err != nil {
			return err
		}

		err = fn(state)
		if err == nil {
			return nil
		}
		if !errors.Is(err, interfaces.ErrStaleVersion) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("mutation exhausted %d attempts: %w", mutationAttempts, lastErr)
}

// RequestAccess files a pending access request for someone else's record.
// Requests against the caller's own record are rejected here, before any
// ledger write.
func (sm *StateMachine) RequestAccess(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, reason string, level interfaces.AccessLevel, signer interfaces.TransactionSigner) (*interfaces.AccessRequest, error) {
	if err := sm.checkSigner(caller, signer); err != nil {
		return nil, err
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", interfaces.ErrInvalidState, level)
	}

	req := interfaces.AccessRequest{
		ID:          uuid.New().String(),
		Requester:   caller.Signer,
		RecordID:    recordID,
		Reason:      reason,
		AccessLevel: level,
		CreatedAt:   sm.now(),
		Status:      interfaces.RequestPending,
	}

	err := sm.withRecord(ctx, recordID, func(state *interfaces.RecordState) error {
		if state.Owner.Equal(caller.Signer) {
			return fmt.Errorf("%w: self-access request for record %s", interfaces.ErrInvalidState, recordID)
		}

		_, err := sm.ledger.SubmitAccessRequest(ctx, req, state.Version, signer)
		return err
	})
	if err != nil {
		return nil, err
	}

	sm.log.Info("Access request submitted",
		slog.String("record_id", recordID.String()),
		slog.String("request_id", req.ID),
		slog.String("requester", caller.Signer.String()),
		slog.String("access_level", string(level)))

	return &req, nil
}

// Grant approves a pending request and creates the permission. Only the
// record owner may grant, the request must still be pending, and a request
// whose 7-day window has elapsed is moved to Expired instead.
func (sm *StateMachine) Grant(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, requestID string, signer interfaces.TransactionSigner) (*interfaces.Permission, error) {
	if err := sm.checkSigner(caller, signer); err != nil {
		return nil, err
	}

	var perm *interfaces.Permission
	err := sm.withRecord(ctx, recordID, func(state *interfaces.RecordState) error {
		if !state.Owner.Equal(caller.Signer) {
			return fmt.Errorf("%w: only the record owner may grant access", interfaces.ErrPermissionDenied)
		}

		req := state.RequestByID(requestID)
		if req == nil {
			return fmt.Errorf("%w: request %s not found", interfaces.ErrInvalidState, requestID)
		}
		if req.Status != interfaces.RequestPending {
			return fmt.Errorf("%w: request %s already %s", interfaces.ErrInvalidState, requestID, req.Status)
		}

		if req.WindowElapsed(sm.now()) {
			if _, err := sm.ledger.SetRequestStatus(ctx, recordID, requestID, interfaces.RequestExpired, state.Version, signer); err != nil {
				return err
			}
			return fmt.Errorf("%w: request %s window elapsed", interfaces.ErrInvalidState, requestID)
		}

		now := sm.now()
		p := interfaces.Permission{
			ID:          uuid.New().String(),
			RecordID:    recordID,
			Grantee:     req.Requester,
			AccessLevel: req.AccessLevel,
			GrantedAt:   now,
			ExpiresAt:   now.Add(interfaces.PermissionTTL),
			IsActive:    true,
		}

		// Approval and permission land in one transaction; a version
		// conflict displaces both.
		if _, err := sm.ledger.ApproveRequest(ctx, recordID, requestID, p, state.Version, signer); err != nil {
			return err
		}
		perm = &p
		return nil
	})
	if err != nil {
		return nil, err
	}

	sm.log.Info("Access granted",
		slog.String("record_id", recordID.String()),
		slog.String("request_id", requestID),
		slog.String("permission_id", perm.ID),
		slog.String("grantee", perm.Grantee.String()))

	return perm, nil
}

// Deny moves a pending request to Denied. Only the record owner may deny,
// and a request whose 7-day window has elapsed is moved to Expired instead,
// the same way Grant handles it.
func (sm *StateMachine) Deny(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, requestID string, signer interfaces.TransactionSigner) error {
	if err := sm.checkSigner(caller, signer); err != nil {
		return err
	}

	err := sm.withRecord(ctx, recordID, func(state *interfaces.RecordState) error {
		if !state.Owner.Equal(caller.Signer) {
			return fmt.Errorf("%w: only the record owner may deny access", interfaces.ErrPermissionDenied)
		}

		req := state.RequestByID(requestID)
		if req == nil {
			return fmt.Errorf("%w: request %s not found", interfaces.ErrInvalidState, requestID)
		}
		if req.Status != interfaces.RequestPending {
			return fmt.Errorf("%w: request %s already %s", interfaces.ErrInvalidState, requestID, req.Status)
		}

		if req.WindowElapsed(sm.now()) {
			if _, err := sm.ledger.SetRequestStatus(ctx, recordID, requestID, interfaces.RequestExpired, state.Version, signer); err != nil {
				return err
			}
			return fmt.Errorf("%w: request %s window elapsed", interfaces.ErrInvalidState, requestID)
		}

		_, err := sm.ledger.SetRequestStatus(ctx, recordID, requestID, interfaces.RequestDenied, state.Version, signer)
		return err
	})
	if err != nil {
		return err
	}

	sm.log.Info("Access denied",
		slog.String("record_id", recordID.String()),
		slog.String("request_id", requestID))

	return nil
}

// Revoke deactivates a permission. Only the record owner may revoke, and
// revocation is one-way: there is no reactivation path.
func (sm *StateMachine) Revoke(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, permissionID string, signer interfaces.TransactionSigner) error {
	if err := sm.checkSigner(caller, signer); err != nil {
		return err
	}

	err := sm.withRecord(ctx, recordID, func(state *interfaces.RecordState) error {
		if !state.Owner.Equal(caller.Signer) {
			return fmt.Errorf("%w: only the record owner may revoke access", interfaces.ErrPermissionDenied)
		}

		perm := state.PermissionByID(permissionID)
		if perm == nil {
			return fmt.Errorf("%w: permission %s not found", interfaces.ErrInvalidState, permissionID)
		}
		if !perm.IsActive {
			return fmt.Errorf("%w: permission %s already revoked", interfaces.ErrInvalidState, permissionID)
		}

		_, err := sm.ledger.RevokePermission(ctx, recordID, permissionID, state.Version, signer)
		return err
	})
	if err != nil {
		return err
	}

	sm.log.Info("Permission revoked",
		slog.String("record_id", recordID.String()),
		slog.String("permission_id", permissionID))

	return nil
}

// EmergencyAccess creates an immediate grant without the owner's approval.
// The caller must claim CapabilityMasterKey and the claim is re-validated
// against the on-ledger capability token.
func (sm *StateMachine) EmergencyAccess(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, reason string, signer interfaces.TransactionSigner) (*interfaces.EmergencyAccess, error) {
	if err := sm.checkSigner(caller, signer); err != nil {
		return nil, err
	}

	if !caller.Holds(interfaces.CapabilityMasterKey) {
		return nil, fmt.Errorf("%w: caller does not claim the master capability", interfaces.ErrPermissionDenied)
	}

	held, err := sm.ledger.HoldsMasterCapability(ctx, caller.Signer)
	if err != nil {
		return nil, fmt.Errorf("master capability check failed: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("%w: %s does not hold the master capability on the ledger",
			interfaces.ErrPermissionDenied, caller.Signer)
	}

	grant := interfaces.EmergencyAccess{
		ID:            uuid.New().String(),
		Grantee:       caller.Signer,
		RecordID:      recordID,
		Reason:        reason,
		Timestamp:     sm.now(),
		MasterKeyUsed: true,
		IsActive:      true,
	}

	err = sm.withRecord(ctx, recordID, func(state *interfaces.RecordState) error {
		_, err := sm.ledger.PutEmergencyAccess(ctx, grant, state.Version, signer)
		return err
	})
	if err != nil {
		return nil, err
	}

	sm.log.Warn("Emergency access granted",
		slog.String("record_id", recordID.String()),
		slog.String("grant_id", grant.ID),
		slog.String("grantee", caller.Signer.String()),
		slog.String("reason", reason))

	return &grant, nil
}

// RevokeEmergency deactivates an emergency grant. Only the record owner may
// revoke it.
func (sm *StateMachine) RevokeEmergency(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, grantID string, signer interfaces.TransactionSigner) error {
	if err := sm.checkSigner(caller, signer); err != nil {
		return err
	}

	err := sm.withRecord(ctx, recordID, func(state *interfaces.RecordState) error {
		if !state.Owner.Equal(caller.Signer) {
			return fmt.Errorf("%w: only the record owner may revoke emergency access", interfaces.ErrPermissionDenied)
		}

		grant := state.EmergencyByID(grantID)
		if grant == nil {
			return fmt.Errorf("%w: emergency grant %s not found", interfaces.ErrInvalidState, grantID)
		}
		if !grant.IsActive {
			return fmt.Errorf("%w: emergency grant %s already revoked", interfaces.ErrInvalidState, grantID)
		}

		_, err := sm.ledger.RevokeEmergencyAccess(ctx, recordID, grantID, state.Version, signer)
		return err
	})
	if err != nil {
		return err
	}

	sm.log.Info("Emergency access revoked",
		slog.String("record_id", recordID.String()),
		slog.String("grant_id", grantID))

	return nil
}

// Authorize decides whether the caller may decrypt the record right now and
// issues the proof the key-server pool will re-validate. Expiry is evaluated
// here, at use time. Every outcome, grant or denial, lands in the record's
// event history.
func (sm *StateMachine) Authorize(ctx context.Context, caller interfaces.CallerContext, recordID interfaces.RecordID, signer interfaces.TransactionSigner) (*interfaces.AccessProof, error) {
	if err := sm.checkSigner(caller, signer); err != nil {
		return nil, err
	}

	state, err := sm.ledger.ReadRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	now := sm.now()
	proof := &interfaces.AccessProof{
		RecordID:  recordID,
		Requester: caller.Signer,
		IssuedAt:  now,
	}

	switch {
	case state.Owner.Equal(caller.Signer):
		proof.Basis = interfaces.ProofBasisOwner
	case state.UsablePermissionFor(caller.Signer, now) != nil:
		proof.Basis = interfaces.ProofBasisGrant
		proof.GrantID = state.UsablePermissionFor(caller.Signer, now).ID
	case state.ActiveEmergencyFor(caller.Signer) != nil:
		proof.Basis = interfaces.ProofBasisEmergency
		proof.GrantID = state.ActiveEmergencyFor(caller.Signer).ID
	default:
		sm.recordDecision(ctx, recordID, caller.Signer, interfaces.EventAccessDenied,
			map[string]string{"operation": "retrieve"}, signer)
		return nil, fmt.Errorf("%w: no usable permission or emergency grant for %s",
			interfaces.ErrPermissionDenied, caller.Signer)
	}

	sig, err := signer.Sign(ctx, proofPayload(proof))
	if err != nil {
		return nil, fmt.Errorf("proof signing failed: %w", err)
	}
	proof.Signature = sig

	sm.recordDecision(ctx, recordID, caller.Signer, interfaces.EventAccessGranted,
		map[string]string{"operation": "retrieve", "basis": string(proof.Basis)}, signer)

	return proof, nil
}

// recordDecision appends an authorization outcome to the event history. A
// failure to record is logged but does not flip the decision.
func (sm *StateMachine) recordDecision(ctx context.Context, recordID interfaces.RecordID, actor interfaces.PrincipalID, kind interfaces.EventKind, details map[string]string, signer interfaces.TransactionSigner) {
	_, err := sm.ledger.AppendEvent(ctx, interfaces.LedgerEvent{
		RecordID:  recordID,
		Kind:      kind,
		Actor:     actor,
		Target:    "retrieval",
		Timestamp: sm.now(),
		Details:   details,
	}, signer)
	if err != nil {
		sm.log.Error("Failed to record authorization decision",
			slog.String("record_id", recordID.String()),
			slog.String("kind", string(kind)),
			"err", err)
	}
}

func proofPayload(proof *interfaces.AccessProof) []byte {
	payload := make([]byte, 0, 64)
	payload = append(payload, proof.RecordID.Bytes()...)
	payload = append(payload, proof.Requester.Bytes()...)
	payload = append(payload, []byte(proof.Basis)...)
	payload = append(payload, []byte(proof.GrantID)...)
	return payload
}
