package interfaces

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PrincipalID identifies an actor (patient, clinician, service) on the
// ledger. It is a 20-byte address issued by the authentication collaborator.
type PrincipalID [20]byte

// NewPrincipalIDFromBytes creates a principal ID from a 20-byte slice.
func NewPrincipalIDFromBytes(src []byte) (PrincipalID, error) {
	if len(src) != 20 {
		return PrincipalID{}, errors.New("invalid principal ID length: must be 20 bytes")
	}

	var id PrincipalID
	copy(id[:], src)
	return id, nil
}

// NewPrincipalIDFromHex creates a principal ID from a hex string, with or
// without a 0x prefix.
func NewPrincipalIDFromHex(src string) (PrincipalID, error) {
	clean := strings.TrimPrefix(src, "0x")
	if len(clean) != 40 {
		return PrincipalID{}, errors.New("invalid principal ID length: hex string must be 40 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return PrincipalID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewPrincipalIDFromBytes(raw)
}

// String returns the hex representation.
func (id PrincipalID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 20-byte address.
func (id PrincipalID) Bytes() []byte {
	return id[:]
}

// Equal compares two principal IDs.
func (id PrincipalID) Equal(other PrincipalID) bool {
	return id == other
}

// IsZero reports whether the ID is unset.
func (id PrincipalID) IsZero() bool {
	return id == PrincipalID{}
}

// ContractAddress is the address of the record registry contract on the
// ledger.
type ContractAddress [20]byte

// NewContractAddressFromHex creates a contract address from a hex string.
func NewContractAddressFromHex(addr string) (ContractAddress, error) {
	clean := strings.TrimPrefix(addr, "0x")
	if len(clean) != 40 {
		return ContractAddress{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ContractAddress{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var res ContractAddress
	copy(res[:], raw)
	return res, nil
}

// String returns the hex representation.
func (addr ContractAddress) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr ContractAddress) Bytes() []byte {
	return addr[:]
}

// RecordID is a 32-byte identifier of a patient record stream on the ledger.
// All blob references and authorization state for one record hang off it.
type RecordID [32]byte

// NewRecordIDFromBytes creates a record ID from a 32-byte slice.
func NewRecordIDFromBytes(src []byte) (RecordID, error) {
	if len(src) != 32 {
		return RecordID{}, errors.New("invalid record ID length: must be 32 bytes")
	}

	var id RecordID
	copy(id[:], src)
	return id, nil
}

// NewRecordIDFromHex creates a record ID from a 64-character hex string.
func NewRecordIDFromHex(src string) (RecordID, error) {
	clean := strings.TrimPrefix(src, "0x")
	if len(clean) != 64 {
		return RecordID{}, errors.New("invalid record ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return RecordID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewRecordIDFromBytes(raw)
}

// RecordIDForPatient derives the record stream ID for a patient identity.
// The derivation is deterministic so every writer lands on the same stream.
func RecordIDForPatient(patient PrincipalID) RecordID {
	h := sha256.New()
	h.Write(patient[:])
	h.Write([]byte("health-record"))

	var id RecordID
	copy(id[:], h.Sum(nil))
	return id
}

// String returns the hex representation.
func (id RecordID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte ID.
func (id RecordID) Bytes() []byte {
	return id[:]
}

// Equal compares two record IDs.
func (id RecordID) Equal(other RecordID) bool {
	return bytes.Equal(id[:], other[:])
}

// Checksum is the SHA-256 digest of a ciphertext blob, recorded on the
// ledger at registration and re-verified on every retrieval.
type Checksum [32]byte

// NewChecksumFromHex creates a checksum from a 64-character hex string.
func NewChecksumFromHex(src string) (Checksum, error) {
	clean := strings.TrimPrefix(src, "0x")
	if len(clean) != 64 {
		return Checksum{}, errors.New("invalid checksum length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Checksum{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var sum Checksum
	copy(sum[:], raw)
	return sum, nil
}

// String returns the hex representation.
func (sum Checksum) String() string {
	return hex.EncodeToString(sum[:])
}

// Equal compares two checksums.
func (sum Checksum) Equal(other Checksum) bool {
	return sum == other
}

// TxDigest identifies a committed ledger transaction.
type TxDigest [32]byte

// String returns the hex representation.
func (d TxDigest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d TxDigest) IsZero() bool {
	return d == TxDigest{}
}

// BlobID is the content address of an uploaded ciphertext blob: the SHA-256
// hash of its bytes.
type BlobID [32]byte

// ComputeBlobID calculates the content address for blob data.
func ComputeBlobID(data []byte) BlobID {
	return BlobID(sha256.Sum256(data))
}

// NewBlobIDFromHex creates a blob ID from a 64-character hex string.
func NewBlobIDFromHex(src string) (BlobID, error) {
	clean := strings.TrimPrefix(src, "0x")
	if len(clean) != 64 {
		return BlobID{}, errors.New("invalid blob ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return BlobID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	var id BlobID
	copy(id[:], raw)
	return id, nil
}

// String returns the hex representation.
func (id BlobID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte ID.
func (id BlobID) Bytes() []byte {
	return id[:]
}

// BlobRef is the opaque handle returned by the blob store. Blobs holding
// health data are write-once: a reference is never updated or deleted.
type BlobRef struct {
	ID         BlobID    `json:"blob_id"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// RecordType classifies a registered reference.
type RecordType string

const (
	RecordTypeClinicalNote RecordType = "clinical_note"
	RecordTypeLabResult    RecordType = "lab_result"
	RecordTypeImaging      RecordType = "imaging"
	RecordTypePrescription RecordType = "prescription"
)

// LedgerRecordUpdate is one entry of a record's append-only reference list.
type LedgerRecordUpdate struct {
	RecordID   RecordID   `json:"record_id"`
	BlobRef    BlobRef    `json:"blob_ref"`
	Checksum   Checksum   `json:"checksum"`
	RecordType RecordType `json:"record_type"`
	Timestamp  time.Time  `json:"timestamp"`
	TxDigest   TxDigest   `json:"tx_digest"`
}

// BlobMetadata travels with an upload. It never contains plaintext record
// content, only routing and classification data.
type BlobMetadata struct {
	RecordID   RecordID   `json:"record_id"`
	RecordType RecordType `json:"record_type"`
	Author     PrincipalID `json:"author"`
}
