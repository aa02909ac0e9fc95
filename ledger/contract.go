package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/medledger/record-vault-backend/interfaces"
)

// recordRegistryABI is the ABI of the record registry contract. Record and
// event state crosses the boundary as JSON bytes; the contract enforces
// version checks and ownership, the client handles serialization.
const recordRegistryABI = `[
	{"type":"function","name":"ensureRecord","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"owner","type":"address"}],"outputs":[]},
	{"type":"function","name":"registerReference","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"blobId","type":"bytes32"},{"name":"checksum","type":"bytes32"},{"name":"recordType","type":"string"},{"name":"size","type":"uint64"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"submitAccessRequest","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"requestId","type":"string"},{"name":"requester","type":"address"},{"name":"reason","type":"string"},{"name":"accessLevel","type":"string"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"setRequestStatus","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"requestId","type":"string"},{"name":"status","type":"string"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"approveRequest","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"requestId","type":"string"},{"name":"permissionId","type":"string"},{"name":"grantee","type":"address"},{"name":"accessLevel","type":"string"},{"name":"expiresAt","type":"uint64"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"putPermission","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"permissionId","type":"string"},{"name":"grantee","type":"address"},{"name":"accessLevel","type":"string"},{"name":"expiresAt","type":"uint64"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"revokePermission","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"permissionId","type":"string"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"putEmergencyAccess","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"grantId","type":"string"},{"name":"grantee","type":"address"},{"name":"reason","type":"string"},{"name":"masterKeyUsed","type":"bool"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"revokeEmergencyAccess","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"grantId","type":"string"},{"name":"expectedVersion","type":"uint64"}],"outputs":[]},
	{"type":"function","name":"appendEvent","stateMutability":"nonpayable","inputs":[{"name":"recordId","type":"bytes32"},{"name":"kind","type":"string"},{"name":"actor","type":"address"},{"name":"target","type":"string"},{"name":"details","type":"string"}],"outputs":[]},
	{"type":"function","name":"getRecord","stateMutability":"view","inputs":[{"name":"recordId","type":"bytes32"}],"outputs":[{"name":"state","type":"bytes"}]},
	{"type":"function","name":"getEvents","stateMutability":"view","inputs":[{"name":"recordId","type":"bytes32"},{"name":"fromTime","type":"uint64"},{"name":"toTime","type":"uint64"},{"name":"limit","type":"uint64"}],"outputs":[{"name":"events","type":"bytes"}]},
	{"type":"function","name":"holdsMasterCapability","stateMutability":"view","inputs":[{"name":"principal","type":"address"}],"outputs":[{"name":"held","type":"bool"}]},
	{"type":"function","name":"addBlob","stateMutability":"nonpayable","inputs":[{"name":"data","type":"bytes"}],"outputs":[{"name":"id","type":"bytes32"}]},
	{"type":"function","name":"getBlob","stateMutability":"view","inputs":[{"name":"id","type":"bytes32"}],"outputs":[{"name":"data","type":"bytes"}]}
]`

// OnchainClient implements interfaces.Ledger against the record registry
// contract over an Ethereum JSON-RPC backend. It also serves as the blob
// registry for onchain blob storage.
type OnchainClient struct {
	contract *bind.BoundContract
	address  common.Address
	auth     *bind.TransactOpts
	log      *slog.Logger
}

// NewOnchainClient creates a ledger client for the registry contract at the
// given address. Call SetTransactOpts before any mutation.
func NewOnchainClient(backend bind.ContractBackend, address common.Address, log *slog.Logger) (*OnchainClient, error) {
	parsed, err := abi.JSON(strings.NewReader(recordRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	return &OnchainClient{
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:  address,
		log:      log,
	}, nil
}

// SetTransactOpts sets the transaction options used for state mutations.
func (c *OnchainClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

// mapContractError translates contract reverts into the package's sentinel
// errors.
func mapContractError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stale version"):
		return fmt.Errorf("%w: %v", interfaces.ErrStaleVersion, err)
	case strings.Contains(msg, "record not found"):
		return fmt.Errorf("%w: %v", interfaces.ErrRecordNotFound, err)
	case strings.Contains(msg, "invalid state"):
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidState, err)
	default:
		return err
	}
}

func (c *OnchainClient) transact(ctx context.Context, signer interfaces.TransactionSigner, method string, params ...interface{}) (interfaces.TxDigest, error) {
	if signer == nil || !signer.IsSessionValid() {
		return interfaces.TxDigest{}, fmt.Errorf("%w: transaction signer", interfaces.ErrSessionExpired)
	}
	if c.auth == nil {
		return interfaces.TxDigest{}, fmt.Errorf("no authorized transactor available")
	}

	opts := *c.auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return interfaces.TxDigest{}, mapContractError(err)
	}

	c.log.Debug("Submitted ledger transaction",
		slog.String("method", method),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.String("signer", signer.CurrentIdentity().String()))

	return interfaces.TxDigest(tx.Hash()), nil
}

// EnsureRecord creates the record object if missing. The contract treats
// re-creation as a no-op.
func (c *OnchainClient) EnsureRecord(ctx context.Context, recordID interfaces.RecordID, owner interfaces.PrincipalID, signer interfaces.TransactionSigner) error {
	_, err := c.transact(ctx, signer, "ensureRecord", [32]byte(recordID), common.BytesToAddress(owner.Bytes()))
	return err
}

// ReadRecord fetches and decodes the record state.
func (c *OnchainClient) ReadRecord(ctx context.Context, recordID interfaces.RecordID) (*interfaces.RecordState, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getRecord", [32]byte(recordID))
	if err != nil {
		return nil, mapContractError(err)
	}

	data := *abi.ConvertType(out[0], new([]byte)).(*[]byte)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrRecordNotFound, recordID)
	}

	state, err := decodeRecordState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record state: %w", err)
	}
	return state, nil
}

// RegisterReference appends a blob reference to the record.
func (c *OnchainClient) RegisterReference(ctx context.Context, update interfaces.LedgerRecordUpdate, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "registerReference",
		[32]byte(update.RecordID),
		[32]byte(update.BlobRef.ID),
		[32]byte(update.Checksum),
		string(update.RecordType),
		uint64(update.BlobRef.Size),
		expectedVersion)
}

// SubmitAccessRequest appends a pending request.
func (c *OnchainClient) SubmitAccessRequest(ctx context.Context, req interfaces.AccessRequest, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "submitAccessRequest",
		[32]byte(req.RecordID),
		req.ID,
		common.BytesToAddress(req.Requester.Bytes()),
		req.Reason,
		string(req.AccessLevel),
		expectedVersion)
}

// SetRequestStatus moves a request to a terminal status.
func (c *OnchainClient) SetRequestStatus(ctx context.Context, recordID interfaces.RecordID, requestID string, status interfaces.RequestStatus, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "setRequestStatus",
		[32]byte(recordID), requestID, string(status), expectedVersion)
}

// ApproveRequest approves a pending request and stores the permission in
// one contract call, so the transition commits or reverts as a unit.
func (c *OnchainClient) ApproveRequest(ctx context.Context, recordID interfaces.RecordID, requestID string, perm interfaces.Permission, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "approveRequest",
		[32]byte(recordID),
		requestID,
		perm.ID,
		common.BytesToAddress(perm.Grantee.Bytes()),
		string(perm.AccessLevel),
		uint64(perm.ExpiresAt.Unix()),
		expectedVersion)
}

// PutPermission stores a granted permission.
func (c *OnchainClient) PutPermission(ctx context.Context, perm interfaces.Permission, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "putPermission",
		[32]byte(perm.RecordID),
		perm.ID,
		common.BytesToAddress(perm.Grantee.Bytes()),
		string(perm.AccessLevel),
		uint64(perm.ExpiresAt.Unix()),
		expectedVersion)
}

// RevokePermission deactivates a permission.
func (c *OnchainClient) RevokePermission(ctx context.Context, recordID interfaces.RecordID, permissionID string, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "revokePermission",
		[32]byte(recordID), permissionID, expectedVersion)
}

// PutEmergencyAccess stores an emergency grant.
func (c *OnchainClient) PutEmergencyAccess(ctx context.Context, grant interfaces.EmergencyAccess, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "putEmergencyAccess",
		[32]byte(grant.RecordID),
		grant.ID,
		common.BytesToAddress(grant.Grantee.Bytes()),
		grant.Reason,
		grant.MasterKeyUsed,
		expectedVersion)
}

// RevokeEmergencyAccess deactivates an emergency grant.
func (c *OnchainClient) RevokeEmergencyAccess(ctx context.Context, recordID interfaces.RecordID, grantID string, expectedVersion uint64, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	return c.transact(ctx, signer, "revokeEmergencyAccess",
		[32]byte(recordID), grantID, expectedVersion)
}

// AppendEvent records a side-effect-free audit event.
func (c *OnchainClient) AppendEvent(ctx context.Context, event interfaces.LedgerEvent, signer interfaces.TransactionSigner) (interfaces.TxDigest, error) {
	details, err := encodeEventDetails(event.Details)
	if err != nil {
		return interfaces.TxDigest{}, err
	}

	return c.transact(ctx, signer, "appendEvent",
		[32]byte(event.RecordID),
		string(event.Kind),
		common.BytesToAddress(event.Actor.Bytes()),
		event.Target,
		details)
}

// Events fetches the record's event history.
func (c *OnchainClient) Events(ctx context.Context, recordID interfaces.RecordID, from, to time.Time, limit int) ([]interfaces.LedgerEvent, error) {
	var fromUnix, toUnix uint64
	if !from.IsZero() {
		fromUnix = uint64(from.Unix())
	}
	if !to.IsZero() {
		toUnix = uint64(to.Unix())
	}
	var lim uint64
	if limit > 0 {
		lim = uint64(limit)
	}

	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getEvents",
		[32]byte(recordID), fromUnix, toUnix, lim)
	if err != nil {
		return nil, mapContractError(err)
	}

	data := *abi.ConvertType(out[0], new([]byte)).(*[]byte)
	return decodeEvents(data)
}

// HoldsMasterCapability checks the on-ledger master capability token.
func (c *OnchainClient) HoldsMasterCapability(ctx context.Context, principal interfaces.PrincipalID) (bool, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "holdsMasterCapability",
		common.BytesToAddress(principal.Bytes()))
	if err != nil {
		return false, mapContractError(err)
	}

	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// AddBlob stores blob bytes on the contract. Implements the blob registry
// used by onchain blob stores.
func (c *OnchainClient) AddBlob(ctx context.Context, data []byte) ([32]byte, *types.Transaction, error) {
	if c.auth == nil {
		return [32]byte{}, nil, fmt.Errorf("no authorized transactor available")
	}

	opts := *c.auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, "addBlob", data)
	if err != nil {
		return [32]byte{}, nil, mapContractError(err)
	}

	id := interfaces.ComputeBlobID(data)
	return [32]byte(id), tx, nil
}

// GetBlob fetches blob bytes stored on the contract.
func (c *OnchainClient) GetBlob(ctx context.Context, id [32]byte) ([]byte, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getBlob", id)
	if err != nil {
		return nil, mapContractError(err)
	}

	return *abi.ConvertType(out[0], new([]byte)).(*[]byte), nil
}
