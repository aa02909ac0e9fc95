package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/medledger/record-vault-backend/audit"
	"github.com/medledger/record-vault-backend/interfaces"
)

// Header constants used in HTTP requests.
const (
	// IdentityHeader carries the caller's hex-encoded principal ID.
	IdentityHeader = "X-Medledger-Identity"

	// CapabilitiesHeader carries a comma-separated list of claimed
	// capability names.
	CapabilitiesHeader = "X-Medledger-Capabilities"
)

// SessionRequest opens a signing session.
type SessionRequest struct {
	// TTLSeconds bounds the session lifetime. Zero uses the server default.
	TTLSeconds int64 `json:"ttl_seconds,omitempty"`
}

// SessionResponse returns the identity derived from the issued signing key.
type SessionResponse struct {
	Identity  interfaces.PrincipalID `json:"identity"`
	ExpiresAt time.Time              `json:"expires_at,omitempty"`
}

// ProcessRecordRequest uploads one plaintext record for the caller's own
// record stream. Payload is base64 over JSON.
type ProcessRecordRequest struct {
	Payload    []byte                `json:"payload"`
	RecordType interfaces.RecordType `json:"record_type"`
}

// ProcessRecordResponse reports where the sealed record landed.
type ProcessRecordResponse struct {
	RecordID interfaces.RecordID `json:"record_id"`
	BlobRef  interfaces.BlobRef  `json:"blob_ref"`
	Checksum interfaces.Checksum `json:"checksum"`
	TxDigest interfaces.TxDigest `json:"tx_digest"`
}

// RetrieveRecordResponse carries the decrypted payload and its provenance.
type RetrieveRecordResponse struct {
	Payload    []byte                `json:"payload"`
	RecordType interfaces.RecordType `json:"record_type"`
	Basis      interfaces.ProofBasis `json:"basis"`
	Registered time.Time             `json:"registered_at"`
}

// AccessRequestSubmission petitions for access to another patient's record.
type AccessRequestSubmission struct {
	Reason      string                 `json:"reason"`
	AccessLevel interfaces.AccessLevel `json:"access_level"`
}

// EmergencyAccessRequest invokes master-capability emergency access.
type EmergencyAccessRequest struct {
	Reason string `json:"reason"`
}

// AuditTrailResponse lists a record's projected audit events.
type AuditTrailResponse struct {
	RecordID interfaces.RecordID `json:"record_id"`
	Events   []audit.AuditEvent  `json:"events"`
}

// StatusResponse acknowledges a side-effect-only operation.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestError carries an explicit HTTP status alongside the underlying
// error, for failures that have no sentinel in the pipeline taxonomy.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error returns the message of the underlying error.
func (e *RequestError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error to errors.Is checks.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// StatusForError maps the pipeline error taxonomy onto HTTP status codes.
func StatusForError(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}

	switch {
	case errors.Is(err, interfaces.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrRecordNotFound), errors.Is(err, interfaces.ErrBlobNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidState), errors.Is(err, interfaces.ErrStaleVersion):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrPolicy), errors.Is(err, interfaces.ErrInvalidLocationURI):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrUploadFailure):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, interfaces.ErrRegistrationFailure), errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ParseCapabilities converts the capabilities header value into capability
// kinds, ignoring empty entries.
func ParseCapabilities(header string) []interfaces.CapabilityKind {
	if header == "" {
		return nil
	}

	var caps []interfaces.CapabilityKind
	for _, part := range strings.Split(header, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			caps = append(caps, interfaces.CapabilityKind(trimmed))
		}
	}
	return caps
}
