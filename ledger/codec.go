package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/medledger/record-vault-backend/interfaces"
)

// Record state and event history cross the contract boundary as JSON bytes.
// The contract treats them as opaque; only the client reads them.

func decodeRecordState(data []byte) (*interfaces.RecordState, error) {
	var state interfaces.RecordState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func decodeEvents(data []byte) ([]interfaces.LedgerEvent, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var events []interfaces.LedgerEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode event history: %w", err)
	}
	return events, nil
}

func encodeEventDetails(details map[string]string) (string, error) {
	if len(details) == 0 {
		return "", nil
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to encode event details: %w", err)
	}
	return string(raw), nil
}
