package interfaces

import (
	"context"
	"time"
)

// EventKind categorizes ledger events projected into the audit trail.
type EventKind string

const (
	EventRecordUploaded  EventKind = "record_uploaded"
	EventAccessRequested EventKind = "access_requested"
	EventAccessGranted   EventKind = "access_granted"
	EventAccessDenied    EventKind = "access_denied"
	EventAccessRevoked   EventKind = "access_revoked"
	EventEmergencyAccess EventKind = "emergency_access"
)

// LedgerEvent is one append-only entry in a record's event history. Events
// are emitted by every authorization decision, successful or not, so failed
// attempts are as auditable as grants.
type LedgerEvent struct {
	ID        string            `json:"id"`
	RecordID  RecordID          `json:"record_id"`
	Kind      EventKind         `json:"kind"`
	Actor     PrincipalID       `json:"actor"`
	Target    string            `json:"target"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
	TxDigest  TxDigest          `json:"tx_digest"`
}

// RecordState is the ledger's view of one record object: its append-only
// reference list and the full authorization state. Version increments on
// every mutation and backs the optimistic-concurrency protocol.
type RecordState struct {
	RecordID        RecordID             `json:"record_id"`
	Owner           PrincipalID          `json:"owner"`
	Version         uint64               `json:"version"`
	References      []LedgerRecordUpdate `json:"references"`
	Requests        []AccessRequest      `json:"requests"`
	Permissions     []Permission         `json:"permissions"`
	EmergencyGrants []EmergencyAccess    `json:"emergency_grants"`
}

// LatestReference returns the most recently registered reference, or nil for
// an empty record.
func (s *RecordState) LatestReference() *LedgerRecordUpdate {
	if len(s.References) == 0 {
		return nil
	}
	return &s.References[len(s.References)-1]
}

// RequestByID finds an access request by ID.
func (s *RecordState) RequestByID(id string) *AccessRequest {
	for i := range s.Requests {
		if s.Requests[i].ID == id {
			return &s.Requests[i]
		}
	}
	return nil
}

// PermissionByID finds a permission by ID.
func (s *RecordState) PermissionByID(id string) *Permission {
	for i := range s.Permissions {
		if s.Permissions[i].ID == id {
			return &s.Permissions[i]
		}
	}
	return nil
}

// EmergencyByID finds an emergency grant by ID.
func (s *RecordState) EmergencyByID(id string) *EmergencyAccess {
	for i := range s.EmergencyGrants {
		if s.EmergencyGrants[i].ID == id {
			return &s.EmergencyGrants[i]
		}
	}
	return nil
}

// UsablePermissionFor returns the grantee's usable permission, if any.
func (s *RecordState) UsablePermissionFor(grantee PrincipalID, now time.Time) *Permission {
	for i := range s.Permissions {
		p := &s.Permissions[i]
		if p.Grantee.Equal(grantee) && p.Usable(now) {
			return p
		}
	}
	return nil
}

// ActiveEmergencyFor returns the grantee's active emergency grant, if any.
func (s *RecordState) ActiveEmergencyFor(grantee PrincipalID) *EmergencyAccess {
	for i := range s.EmergencyGrants {
		g := &s.EmergencyGrants[i]
		if g.Grantee.Equal(grantee) && g.IsActive {
			return g
		}
	}
	return nil
}

// TransactionSigner is the signing capability produced by the authentication
// collaborator. Session lifetime and renewal are entirely its concern; the
// pipeline only checks validity before submitting transactions.
type TransactionSigner interface {
	// Sign signs a serialized ledger transaction.
	Sign(ctx context.Context, payload []byte) ([]byte, error)

	// CurrentIdentity returns the principal the signer acts for.
	CurrentIdentity() PrincipalID

	// IsSessionValid reports whether the signing session is still usable.
	IsSessionValid() bool
}

// Ledger is the append-only, consensus-replicated state store. Mutations
// carry the expected record version; a write against a stale version fails
// with ErrStaleVersion and must be retried against freshly read state.
type Ledger interface {
	// EnsureRecord creates the record object for an owner if it does not
	// exist. Creating an existing record is a no-op.
	EnsureRecord(ctx context.Context, recordID RecordID, owner PrincipalID, signer TransactionSigner) error

	// ReadRecord returns the current record state.
	ReadRecord(ctx context.Context, recordID RecordID) (*RecordState, error)

	// RegisterReference appends a blob reference to the record. The
	// reference list is strictly append-only.
	RegisterReference(ctx context.Context, update LedgerRecordUpdate, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// SubmitAccessRequest appends a pending access request.
	SubmitAccessRequest(ctx context.Context, req AccessRequest, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// SetRequestStatus moves a request to Denied or Expired. Approval goes
	// through ApproveRequest, which carries the resulting permission.
	SetRequestStatus(ctx context.Context, recordID RecordID, requestID string, status RequestStatus, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// ApproveRequest moves a pending request to Approved and stores the
	// resulting permission in the same transaction, so the record never
	// holds an approved request without its permission.
	ApproveRequest(ctx context.Context, recordID RecordID, requestID string, perm Permission, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// PutPermission stores a permission that does not answer a request,
	// such as one migrated from another system.
	PutPermission(ctx context.Context, perm Permission, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// RevokePermission deactivates a permission. One-way.
	RevokePermission(ctx context.Context, recordID RecordID, permissionID string, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// PutEmergencyAccess stores an emergency grant.
	PutEmergencyAccess(ctx context.Context, grant EmergencyAccess, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// RevokeEmergencyAccess deactivates an emergency grant. One-way.
	RevokeEmergencyAccess(ctx context.Context, recordID RecordID, grantID string, expectedVersion uint64, signer TransactionSigner) (TxDigest, error)

	// AppendEvent records an audit event that has no other ledger side
	// effect, such as a denied retrieval attempt.
	AppendEvent(ctx context.Context, event LedgerEvent, signer TransactionSigner) (TxDigest, error)

	// Events returns the record's event history, oldest first. Zero times
	// mean an unbounded window; a positive limit keeps the newest events
	// after filtering, limit <= 0 means no limit.
	Events(ctx context.Context, recordID RecordID, from, to time.Time, limit int) ([]LedgerEvent, error)

	// HoldsMasterCapability reports whether the principal owns the
	// on-ledger master capability token.
	HoldsMasterCapability(ctx context.Context, principal PrincipalID) (bool, error)
}
