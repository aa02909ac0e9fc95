package interfaces

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// AccessLevel is the scope of a requested or granted permission.
type AccessLevel string

const (
	// AccessReadOnly allows decryption of existing references.
	AccessReadOnly AccessLevel = "read_only"

	// AccessReadAppend additionally allows registering new references.
	AccessReadAppend AccessLevel = "read_append"
)

// Valid reports whether the level is one of the defined values.
func (l AccessLevel) Valid() bool {
	return l == AccessReadOnly || l == AccessReadAppend
}

// RequestStatus is the lifecycle state of an access request. A request
// transitions exactly once from Pending to a terminal state.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// Terminal reports whether the status admits no further transition.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestDenied || s == RequestExpired
}

// RequestWindow is how long an access request stays actionable before it
// times out to Expired.
const RequestWindow = 7 * 24 * time.Hour

// PermissionTTL is the lifetime of a granted permission.
const PermissionTTL = 7 * 24 * time.Hour

// AccessRequest is a petition by a requester for access to somebody else's
// record. Requests against the requester's own record are rejected before
// they ever reach the ledger.
type AccessRequest struct {
	ID          string        `json:"id"`
	Requester   PrincipalID   `json:"requester"`
	RecordID    RecordID      `json:"record_id"`
	Reason      string        `json:"reason"`
	AccessLevel AccessLevel   `json:"access_level"`
	CreatedAt   time.Time     `json:"created_at"`
	Status      RequestStatus `json:"status"`
}

// WindowElapsed reports whether the pending window has passed.
func (r *AccessRequest) WindowElapsed(now time.Time) bool {
	return now.After(r.CreatedAt.Add(RequestWindow))
}

// Permission is an active grant created by approving an access request.
// It is mutated only by one-way revocation or natural expiry.
type Permission struct {
	ID          string      `json:"id"`
	RecordID    RecordID    `json:"record_id"`
	Grantee     PrincipalID `json:"grantee"`
	AccessLevel AccessLevel `json:"access_level"`
	GrantedAt   time.Time   `json:"granted_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	IsActive    bool        `json:"is_active"`
}

// Usable reports whether the permission authorizes access at the given
// instant. Expiry is evaluated at use time, never by a background job.
func (p *Permission) Usable(now time.Time) bool {
	return p.IsActive && now.Before(p.ExpiresAt)
}

// EmergencyAccess is a grant created by a master-capability holder without
// the owner's prior approval. It is always flagged and independently tracked.
type EmergencyAccess struct {
	ID            string      `json:"id"`
	Grantee       PrincipalID `json:"grantee"`
	RecordID      RecordID    `json:"record_id"`
	Reason        string      `json:"reason"`
	Timestamp     time.Time   `json:"timestamp"`
	MasterKeyUsed bool        `json:"master_key_used"`
	IsActive      bool        `json:"is_active"`
}

// CapabilityKind names an on-ledger capability token.
type CapabilityKind string

const (
	// CapabilityMasterKey authorizes emergency access without the record
	// owner's approval.
	CapabilityMasterKey CapabilityKind = "master_key"
)

// CallerContext carries the authenticated identity and its held capabilities
// into every authorization decision. It replaces ambient session state so
// the state machine is testable without globals.
type CallerContext struct {
	Signer       PrincipalID
	Capabilities mapset.Set[CapabilityKind]
}

// NewCallerContext builds a caller context for a signer with the given
// capabilities.
func NewCallerContext(signer PrincipalID, caps ...CapabilityKind) CallerContext {
	return CallerContext{
		Signer:       signer,
		Capabilities: mapset.NewSet(caps...),
	}
}

// Holds reports whether the caller claims the capability. Claimed
// capabilities are still re-validated against the ledger before use.
func (c CallerContext) Holds(kind CapabilityKind) bool {
	return c.Capabilities != nil && c.Capabilities.Contains(kind)
}

// ProofBasis states which authorization ground a proof rests on.
type ProofBasis string

const (
	ProofBasisOwner     ProofBasis = "owner"
	ProofBasisGrant     ProofBasis = "permission"
	ProofBasisEmergency ProofBasis = "emergency"
)

// AccessProof is the capability proof handed to the key-server pool after a
// successful authorization. Key servers do not trust it: each one
// re-validates the claim against current ledger state before releasing its
// share.
type AccessProof struct {
	RecordID  RecordID    `json:"record_id"`
	Requester PrincipalID `json:"requester"`
	Basis     ProofBasis  `json:"basis"`
	GrantID   string      `json:"grant_id,omitempty"`
	IssuedAt  time.Time   `json:"issued_at"`
	Signature []byte      `json:"signature"`
}
