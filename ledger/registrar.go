package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/medledger/record-vault-backend/interfaces"
)

// registrationAttempts bounds the optimistic-concurrency retry loop. Each
// retry re-reads the record so the write lands on fresh state.
const registrationAttempts = 3

// Registrar registers blob references on the ledger, absorbing version
// conflicts from concurrent writers.
type Registrar struct {
	ledger interfaces.Ledger
	log    *slog.Logger
}

// NewRegistrar creates a registrar over the given ledger.
func NewRegistrar(ledger interfaces.Ledger, log *slog.Logger) *Registrar {
	return &Registrar{ledger: ledger, log: log}
}

// Register ensures the record exists and appends the reference, retrying on
// version conflicts. After the attempt budget is exhausted the registration
// fails with ErrRegistrationFailure; the uploaded blob stays orphaned and
// unreferenced, never half-registered.
func (r *Registrar) Register(ctx context.Context, owner interfaces.PrincipalID, update interfaces.LedgerRecordUpdate, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	if err := r.ledger.EnsureRecord(ctx, update.RecordID, owner, signer); err != nil {
		return interfaces.TxDigest{}, fmt.Errorf("%w: %v", interfaces.ErrRegistrationFailure, err)
	}

	var lastErr error
	for attempt := 1; attempt <= registrationAttempts; attempt++ {
		state, err := r.ledger.ReadRecord(ctx, update.RecordID)
		if err != nil {
			return interfaces.TxDigest{}, fmt.Errorf("%w: %v", interfaces.ErrRegistrationFailure, err)
		}

		tx, err := r.ledger.RegisterReference(ctx, update, state.Version, signer)
		if err == nil {
			if attempt > 1 {
				r.log.Info("Reference registered after retry",
					slog.String("record_id", update.RecordID.String()),
					slog.Int("attempt", attempt))
			}
			return tx, nil
		}

		if !errors.Is(err, interfaces.ErrStaleVersion) {
			return interfaces.TxDigest{}, fmt.Errorf("%w: %v", interfaces.ErrRegistrationFailure, err)
		}

		lastErr = err
		r.log.Debug("Version conflict during registration",
			slog.String("record_id", update.RecordID.String()),
			slog.Int("attempt", attempt))
	}

	r.log.Warn("Reference registration exhausted retries",
		slog.String("record_id", update.RecordID.String()),
		slog.String("blob_id", update.BlobRef.ID.String()),
		slog.Int("attempts", registrationAttempts))

	return interfaces.TxDigest{}, fmt.Errorf("%w: %d attempts: %v",
		interfaces.ErrRegistrationFailure, registrationAttempts, lastErr)
}
