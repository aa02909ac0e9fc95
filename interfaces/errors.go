package interfaces

import "errors"

// Error taxonomy for the record pipeline. Callers branch with errors.Is; all
// lower layers wrap these sentinels with context.
var (
	// ErrPolicy is returned when an encryption policy cannot be built:
	// threshold below 1, zero identity, or a malformed rule template.
	ErrPolicy = errors.New("invalid encryption policy")

	// ErrEncryptionFailure is returned for oracle errors and malformed
	// ciphertext envelopes.
	ErrEncryptionFailure = errors.New("encryption operation failed")

	// ErrUploadFailure is returned when a blob cannot be stored, including
	// client-side size-limit violations detected before any network call.
	ErrUploadFailure = errors.New("blob upload failed")

	// ErrChecksumMismatch signals storage corruption or tampering. It is
	// always fatal; unverified plaintext is never returned.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrRegistrationFailure is returned after the registrar has exhausted
	// its retry budget for a ledger write.
	ErrRegistrationFailure = errors.New("ledger registration failed")

	// ErrPermissionDenied is returned for any authorization failure. Every
	// occurrence is also recorded as a ledger event.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSessionExpired is surfaced when the authentication collaborator
	// reports an invalid signing session.
	ErrSessionExpired = errors.New("signing session expired")

	// ErrInvalidState is returned for illegal state-machine transitions,
	// such as approving an already-terminal access request.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrStaleVersion is the ledger's optimistic-concurrency rejection. The
	// registrar re-reads the record and retries before surfacing
	// ErrRegistrationFailure.
	ErrStaleVersion = errors.New("stale record version")

	// ErrBlobNotFound is returned when a blob store has no content for the
	// requested ID.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBackendUnavailable is returned when a storage backend cannot be
	// reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrRecordNotFound is returned when the ledger has no record object
	// for the requested ID.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidLocationURI is returned for malformed or unsupported blob
	// store location URIs.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)
