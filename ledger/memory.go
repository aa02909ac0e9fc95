package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/medledger/record-vault-backend/interfaces"
)

// MemoryLedger is an in-memory implementation of interfaces.Ledger. It backs
// development deployments and tests, and mirrors the contract's behavior:
// versioned mutations, append-only references, and events emitted by every
// state transition.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[interfaces.RecordID]*interfaces.RecordState
	events  map[interfaces.RecordID][]interfaces.LedgerEvent
	masters map[interfaces.PrincipalID]bool

	txCounter atomic.Uint64
	log       *slog.Logger

	// beforeMutation runs before a mutation takes the write lock. Tests use
	// it to interleave conflicting writes.
	beforeMutation func(op string)
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(log *slog.Logger) *MemoryLedger {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryLedger{
		records: make(map[interfaces.RecordID]*interfaces.RecordState),
		events:  make(map[interfaces.RecordID][]interfaces.LedgerEvent),
		masters: make(map[interfaces.PrincipalID]bool),
		log:     log,
	}
}

// SetMutationHook installs a callback invoked before each mutation.
func (l *MemoryLedger) SetMutationHook(fn func(op string)) {
	l.beforeMutation = fn
}

// SetMasterCapability marks a principal as holding the master capability.
func (l *MemoryLedger) SetMasterCapability(principal interfaces.PrincipalID, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.masters[principal] = held
}

func (l *MemoryLedger) checkSigner(signer interfaces.TransactionSigner) error {
	if signer == nil {
		return fmt.Errorf("%w: no signer", interfaces.ErrSessionExpired)
	}
	if !signer.IsSessionValid() {
		return fmt.Errorf("%w: signing session for %s", interfaces.ErrSessionExpired, signer.CurrentIdentity())
	}
	return nil
}

func (l *MemoryLedger) nextTxDigest(recordID interfaces.RecordID, op string) interfaces.TxDigest {
	h := sha256.New()
	h.Write(recordID[:])
	h.Write([]byte(op))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], l.txCounter.Inc())
	h.Write(seq[:])

	var digest interfaces.TxDigest
	copy(digest[:], h.Sum(nil))
	return digest
}

// emit appends an event under the lock. Callers hold l.mu.
func (l *MemoryLedger) emit(recordID interfaces.RecordID, kind interfaces.EventKind, actor interfaces.PrincipalID, target string, details map[string]string, tx interfaces.TxDigest) {
	l.events[recordID] = append(l.events[recordID], interfaces.LedgerEvent{
		ID:        uuid.New().String(),
		RecordID:  recordID,
		Kind:      kind,
		Actor:     actor,
		Target:    target,
		Timestamp: time.Now(),
		Details:   details,
		TxDigest:  tx,
	})
}

// EnsureRecord creates the record object if it does not exist. Creation is
// idempotent.
func (l *MemoryLedger) EnsureRecord(ctx context.Context, recordID interfaces.RecordID, owner interfaces.PrincipalID, signer interfaces.TransactionSigner) error {
	if err := l.checkSigner(signer); err != nil {
		return err
	}
	if l.beforeMutation != nil {
		l.beforeMutation("ensure_record")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[recordID]; ok {
		return nil
	}

	l.records[recordID] = &interfaces.RecordState{
		RecordID: recordID,
		Owner:    owner,
		Version:  1,
	}

	l.log.Debug("Record created",
		slog.String("record_id", recordID.String()),
		slog.String("owner", owner.String()))

	return nil
}

// ReadRecord returns a copy of the current record state.
func (l *MemoryLedger) ReadRecord(ctx context.Context, recordID interfaces.RecordID) (*interfaces.RecordState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, ok := l.records[recordID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, recordID)
	}

	cp := *state
	cp.References = append([]interfaces.LedgerRecordUpdate(nil), state.References...)
	cp.Requests = append([]interfaces.AccessRequest(nil), state.Requests...)
	cp.Permissions = append([]interfaces.Permission(nil), state.Permissions...)
	cp.EmergencyGrants = append([]interfaces.EmergencyAccess(nil), state.EmergencyGrants...)
	return &cp, nil
}

// eventSpec describes the event a mutation emits.
type eventSpec struct {
	kind    interfaces.EventKind
	actor   interfaces.PrincipalID
	target  string
	details map[string]string
}

// mutate runs fn against the live record under the write lock after the
// version check. fn returns the event to emit, or nil for none.
func (l *MemoryLedger) mutate(ctx context.Context, op string, recordID interfaces.RecordID, expectedVersion uint64, signer interfaces.TransactionSigner, fn func(state *interfaces.RecordState) (*eventSpec, error)) (interfaces.TxDigest, error) {
	if err := l.checkSigner(signer); err != nil {
		return interfaces.TxDigest{}, err
	}
	if l.beforeMutation != nil {
		l.beforeMutation(op)
	}

	if _, err := signer.Sign(ctx, append(recordID[:], []byte(op)...)); err != nil {
		return interfaces.TxDigest{}, fmt.Errorf("transaction signing failed: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.records[recordID]
	if !ok {
		return interfaces.TxDigest{}, fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, recordID)
	}

	if state.Version != expectedVersion {
		return interfaces.TxDigest{}, fmt.Errorf("%w: expected version %d, ledger at %d",
			interfaces.ErrStaleVersion, expectedVersion, state.Version)
	}

	event, err := fn(state)
	if err != nil {
		return interfaces.TxDigest{}, err
	}

	state.Version++
	tx := l.nextTxDigest(recordID, op)
	if event != nil {
		l.emit(recordID, event.kind, event.actor, event.target, event.details, tx)
	}

	return tx, nil
}

// RegisterReference appends a blob reference to the record.
func (l *MemoryLedger) RegisterReference(ctx context.Context, update interfaces.LedgerRecordUpdate, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "register_reference", update.RecordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		update.Timestamp = time.Now()
		state.References = append(state.References, update)

		return &eventSpec{
			kind:   interfaces.EventRecordUploaded,
			actor:  signer.CurrentIdentity(),
			target: update.BlobRef.ID.String(),
			details: map[string]string{
				"record_type": string(update.RecordType),
				"checksum":    update.Checksum.String(),
			},
		}, nil
	})
}

// SubmitAccessRequest appends a pending request.
func (l *MemoryLedger) SubmitAccessRequest(ctx context.Context, req interfaces.AccessRequest, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "submit_access_request", req.RecordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		if req.Status != interfaces.RequestPending {
			return nil, fmt.Errorf("%w: new requests must be pending", interfaces.ErrInvalidState)
		}
		state.Requests = append(state.Requests, req)

		return &eventSpec{
			kind:   interfaces.EventAccessRequested,
			actor:  req.Requester,
			target: req.ID,
			details: map[string]string{
				"access_level": string(req.AccessLevel),
				"reason":       req.Reason,
			},
		}, nil
	})
}

// SetRequestStatus moves a pending request to Denied or Expired. A request
// transitions exactly once; approvals go through ApproveRequest.
func (l *MemoryLedger) SetRequestStatus(ctx context.Context, recordID interfaces.RecordID, requestID string, status interfaces.RequestStatus, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "set_request_status", recordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		req := state.RequestByID(requestID)
		if req == nil {
			return nil, fmt.Errorf("%w: request %s not found", interfaces.ErrInvalidState, requestID)
		}
		if req.Status != interfaces.RequestPending {
			return nil, fmt.Errorf("%w: request %s already %s", interfaces.ErrInvalidState, requestID, req.Status)
		}
		if status != interfaces.RequestDenied && status != interfaces.RequestExpired {
			return nil, fmt.Errorf("%w: status %s requires a permission, use ApproveRequest", interfaces.ErrInvalidState, status)
		}
		req.Status = status

		return &eventSpec{
			kind:    interfaces.EventAccessDenied,
			actor:   signer.CurrentIdentity(),
			target:  requestID,
			details: map[string]string{"status": string(status)},
		}, nil
	})
}

// ApproveRequest moves a pending request to Approved and stores the
// permission under one version bump, so a concurrent writer can displace
// the whole approval or none of it.
func (l *MemoryLedger) ApproveRequest(ctx context.Context, recordID interfaces.RecordID, requestID string, perm interfaces.Permission, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "approve_request", recordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		req := state.RequestByID(requestID)
		if req == nil {
			return nil, fmt.Errorf("%w: request %s not found", interfaces.ErrInvalidState, requestID)
		}
		if req.Status != interfaces.RequestPending {
			return nil, fmt.Errorf("%w: request %s already %s", interfaces.ErrInvalidState, requestID, req.Status)
		}
		req.Status = interfaces.RequestApproved
		state.Permissions = append(state.Permissions, perm)

		return &eventSpec{
			kind:   interfaces.EventAccessGranted,
			actor:  signer.CurrentIdentity(),
			target: perm.Grantee.String(),
			details: map[string]string{
				"request_id":    requestID,
				"permission_id": perm.ID,
				"access_level":  string(perm.AccessLevel),
				"expires_at":    perm.ExpiresAt.UTC().Format(time.RFC3339),
			},
		}, nil
	})
}

// PutPermission stores a granted permission.
func (l *MemoryLedger) PutPermission(ctx context.Context, perm interfaces.Permission, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "put_permission", perm.RecordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		state.Permissions = append(state.Permissions, perm)

		return &eventSpec{
			kind:   interfaces.EventAccessGranted,
			actor:  signer.CurrentIdentity(),
			target: perm.Grantee.String(),
			details: map[string]string{
				"permission_id": perm.ID,
				"access_level":  string(perm.AccessLevel),
				"expires_at":    perm.ExpiresAt.UTC().Format(time.RFC3339),
			},
		}, nil
	})
}

// RevokePermission deactivates a permission. Revocation is one-way.
func (l *MemoryLedger) RevokePermission(ctx context.Context, recordID interfaces.RecordID, permissionID string, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "revoke_permission", recordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		perm := state.PermissionByID(permissionID)
		if perm == nil {
			return nil, fmt.Errorf("%w: permission %s not found", interfaces.ErrInvalidState, permissionID)
		}
		if !perm.IsActive {
			return nil, fmt.Errorf("%w: permission %s already revoked", interfaces.ErrInvalidState, permissionID)
		}
		perm.IsActive = false

		return &eventSpec{
			kind:    interfaces.EventAccessRevoked,
			actor:   signer.CurrentIdentity(),
			target:  perm.Grantee.String(),
			details: map[string]string{"permission_id": permissionID},
		}, nil
	})
}

// PutEmergencyAccess stores an emergency grant.
func (l *MemoryLedger) PutEmergencyAccess(ctx context.Context, grant interfaces.EmergencyAccess, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "put_emergency_access", grant.RecordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		state.EmergencyGrants = append(state.EmergencyGrants, grant)

		return &eventSpec{
			kind:   interfaces.EventEmergencyAccess,
			actor:  signer.CurrentIdentity(),
			target: grant.Grantee.String(),
			details: map[string]string{
				"grant_id":        grant.ID,
				"reason":          grant.Reason,
				"master_key_used": fmt.Sprintf("%t", grant.MasterKeyUsed),
			},
		}, nil
	})
}

// RevokeEmergencyAccess deactivates an emergency grant. One-way.
func (l *MemoryLedger) RevokeEmergencyAccess(ctx context.Context, recordID interfaces.RecordID, grantID string, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return l.mutate(ctx, "revoke_emergency_access", recordID, expectedVersion, signer, func(state *interfaces.RecordState) (*eventSpec, error) {
		grant := state.EmergencyByID(grantID)
		if grant == nil {
			return nil, fmt.Errorf("%w: emergency grant %s not found", interfaces.ErrInvalidState, grantID)
		}
		if !grant.IsActive {
			return nil, fmt.Errorf("%w: emergency grant %s already revoked", interfaces.ErrInvalidState, grantID)
		}
		grant.IsActive = false

		return &eventSpec{
			kind:    interfaces.EventAccessRevoked,
			actor:   signer.CurrentIdentity(),
			target:  grant.Grantee.String(),
			details: map[string]string{"grant_id": grantID, "grant_type": "emergency"},
		}, nil
	})
}

// AppendEvent records an event with no other state effect, such as a denied
// retrieval attempt.
func (l *MemoryLedger) AppendEvent(ctx context.Context, event interfaces.LedgerEvent, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	if err := l.checkSigner(signer); err != nil {
		return interfaces.TxDigest{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := l.nextTxDigest(event.RecordID, "append_event")
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.TxDigest = tx
	l.events[event.RecordID] = append(l.events[event.RecordID], event)

	return tx, nil
}

// Events returns the record's event history, oldest first, filtered by time
// window. A positive limit keeps the newest events, so recent denials stay
// visible however long the history grows.
func (l *MemoryLedger) Events(ctx context.Context, recordID interfaces.RecordID, from, to time.Time, limit int) ([]interfaces.LedgerEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []interfaces.LedgerEvent
	for _, ev := range l.events[recordID] {
		if !from.IsZero() && ev.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && ev.Timestamp.After(to) {
			continue
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// HoldsMasterCapability reports whether a principal holds the master
// capability token.
func (l *MemoryLedger) HoldsMasterCapability(ctx context.Context, principal interfaces.PrincipalID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.masters[principal], nil
}
