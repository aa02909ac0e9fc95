package interfaces

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// The fixed-size identifier types marshal to hex strings so that DTOs and
// ledger state read naturally over the wire and in logs.

func marshalHex(raw []byte) ([]byte, error) {
	return json.Marshal(hex.EncodeToString(raw))
}

func unmarshalHex(data []byte, dst []byte, what string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("invalid %s length: expected %d bytes, got %d", what, len(dst), len(raw))
	}

	copy(dst, raw)
	return nil
}

// MarshalJSON encodes the ID as a hex string.
func (id PrincipalID) MarshalJSON() ([]byte, error) { return marshalHex(id[:]) }

// UnmarshalJSON decodes a hex string.
func (id *PrincipalID) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, id[:], "principal ID")
}

// MarshalJSON encodes the address as a hex string.
func (addr ContractAddress) MarshalJSON() ([]byte, error) { return marshalHex(addr[:]) }

// UnmarshalJSON decodes a hex string.
func (addr *ContractAddress) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, addr[:], "contract address")
}

// MarshalJSON encodes the ID as a hex string.
func (id RecordID) MarshalJSON() ([]byte, error) { return marshalHex(id[:]) }

// UnmarshalJSON decodes a hex string.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, id[:], "record ID")
}

// MarshalJSON encodes the checksum as a hex string.
func (sum Checksum) MarshalJSON() ([]byte, error) { return marshalHex(sum[:]) }

// UnmarshalJSON decodes a hex string.
func (sum *Checksum) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, sum[:], "checksum")
}

// MarshalJSON encodes the digest as a hex string.
func (d TxDigest) MarshalJSON() ([]byte, error) { return marshalHex(d[:]) }

// UnmarshalJSON decodes a hex string.
func (d *TxDigest) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, d[:], "transaction digest")
}

// MarshalJSON encodes the ID as a hex string.
func (id BlobID) MarshalJSON() ([]byte, error) { return marshalHex(id[:]) }

// UnmarshalJSON decodes a hex string.
func (id *BlobID) UnmarshalJSON(data []byte) error {
	return unmarshalHex(data, id[:], "blob ID")
}
