package ledger

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/medledger/record-vault-backend/interfaces"
)

// MockLedger mocks the interfaces.Ledger interface.
type MockLedger struct {
	mock.Mock
}

// EnsureRecord mocks the EnsureRecord method.
func (m *MockLedger) EnsureRecord(ctx context.Context, recordID interfaces.RecordID, owner interfaces.PrincipalID, signer interfaces.TransactionSigner) error {
	args := m.Called(ctx, recordID, owner, signer)
	return args.Error(0)
}

// ReadRecord mocks the ReadRecord method.
func (m *MockLedger) ReadRecord(ctx context.Context, recordID interfaces.RecordID) (*interfaces.RecordState, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.RecordState), args.Error(1)
}

// RegisterReference mocks the RegisterReference method.
func (m *MockLedger) RegisterReference(ctx context.Context, update interfaces.LedgerRecordUpdate, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, update, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// SubmitAccessRequest mocks the SubmitAccessRequest method.
func (m *MockLedger) SubmitAccessRequest(ctx context.Context, req interfaces.AccessRequest, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, req, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// SetRequestStatus mocks the SetRequestStatus method.
func (m *MockLedger) SetRequestStatus(ctx context.Context, recordID interfaces.RecordID, requestID string, status interfaces.RequestStatus, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, recordID, requestID, status, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// ApproveRequest mocks the ApproveRequest method.
func (m *MockLedger) ApproveRequest(ctx context.Context, recordID interfaces.RecordID, requestID string, perm interfaces.Permission, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, recordID, requestID, perm, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// PutPermission mocks the PutPermission method.
func (m *MockLedger) PutPermission(ctx context.Context, perm interfaces.Permission, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, perm, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// RevokePermission mocks the RevokePermission method.
func (m *MockLedger) RevokePermission(ctx context.Context, recordID interfaces.RecordID, permissionID string, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, recordID, permissionID, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// PutEmergencyAccess mocks the PutEmergencyAccess method.
func (m *MockLedger) PutEmergencyAccess(ctx context.Context, grant interfaces.EmergencyAccess, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, grant, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// RevokeEmergencyAccess mocks the RevokeEmergencyAccess method.
func (m *MockLedger) RevokeEmergencyAccess(ctx context.Context, recordID interfaces.RecordID, grantID string, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, recordID, grantID, expectedVersion, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// AppendEvent mocks the AppendEvent method.
func (m *MockLedger) AppendEvent(ctx context.Context, event interfaces.LedgerEvent, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	args := m.Called(ctx, event, signer)
	return args.Get(0).(interfaces.TxDigest), args.Error(1)
}

// Events mocks the Events method.
func (m *MockLedger) Events(ctx context.Context, recordID interfaces.RecordID, from, to time.Time, limit int) ([]interfaces.LedgerEvent, error) {
	args := m.Called(ctx, recordID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.LedgerEvent), args.Error(1)
}

// HoldsMasterCapability mocks the HoldsMasterCapability method.
func (m *MockLedger) HoldsMasterCapability(ctx context.Context, principal interfaces.PrincipalID) (bool, error) {
	args := m.Called(ctx, principal)
	return args.Bool(0), args.Error(1)
}
