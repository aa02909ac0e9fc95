package ledger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/interfaces"
)

func testLog() *slog.Logger {
	return slog.Default()
}

func TestRegistrarRegistersReference(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	signer := newTestSigner(t)
	owner := signer.CurrentIdentity()
	recordID := interfaces.RecordIDForPatient(owner)

	registrar := NewRegistrar(l, testLog())
	tx, err := registrar.Register(ctx, owner, testUpdate(recordID), signer)
	require.NoError(t, err)
	assert.False(t, tx.IsZero())

	state, err := l.ReadRecord(ctx, recordID)
	require.NoError(t, err)
	assert.Len(t, state.References, 1)
}

func TestRegistrarRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(nil)
	signer := newTestSigner(t)
	owner := signer.CurrentIdentity()
	recordID := interfaces.RecordIDForPatient(owner)

	require.NoError(t, l.EnsureRecord(ctx, recordID, owner, signer))

	// A concurrent writer bumps the version between the registrar's read and
	// its first write attempt.
	l.SetMutationHook(func(op string) {
		if op != "register_reference" {
			return
		}
		l.SetMutationHook(nil)
		_, err := l.SubmitAccessRequest(ctx, interfaces.AccessRequest{
			ID:          "conflict",
			Requester:   owner,
			RecordID:    recordID,
			AccessLevel: interfaces.AccessReadOnly,
			Status:      interfaces.RequestPending,
		}, mustVersion(t, l, recordID), signer)
		require.NoError(t, err)
	})

	registrar := NewRegistrar(l, testLog())
	_, err := registrar.Register(ctx, owner, testUpdate(recordID), signer)
	require.NoError(t, err)
}

func TestRegistrarGivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	owner := signer.CurrentIdentity()
	recordID := interfaces.RecordIDForPatient(owner)

	// A ledger that always reports a version conflict.
	mockLedger := new(MockLedger)
	mockLedger.On("EnsureRecord", ctx, recordID, owner, signer).Return(nil)
	mockLedger.On("ReadRecord", ctx, recordID).Return(&interfaces.RecordState{
		RecordID: recordID,
		Owner:    owner,
		Version:  1,
	}, nil)
	mockLedger.On("RegisterReference", ctx, testUpdate(recordID), uint64(1), signer).
		Return(interfaces.TxDigest{}, interfaces.ErrStaleVersion)

	registrar := NewRegistrar(mockLedger, testLog())
	_, err := registrar.Register(ctx, owner, testUpdate(recordID), signer)
	assert.ErrorIs(t, err, interfaces.ErrRegistrationFailure)

	mockLedger.AssertNumberOfCalls(t, "RegisterReference", registrationAttempts)
}

func mustVersion(t *testing.T, l *MemoryLedger, recordID interfaces.RecordID) uint64 {
	t.Helper()
	state, err := l.ReadRecord(context.Background(), recordID)
	require.NoError(t, err)
	return state.Version
}
