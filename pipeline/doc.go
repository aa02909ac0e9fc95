// Package pipeline chains sealing, blob storage, checksum verification and
// ledger registration into the two end-to-end record operations: processing
// an upload and retrieving it under an authorization proof.
//
// Stage ordering is load-bearing. Nothing is written to the ledger before
// blob storage has confirmed the upload, and no plaintext leaves retrieval
// before the stored checksum has been re-verified.
package pipeline
