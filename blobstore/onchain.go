package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/medledger/record-vault-backend/interfaces"
)

// BlobRegistry is the contract surface the onchain store needs: blob bytes
// stored in and served from the record registry contract itself.
type BlobRegistry interface {
	// AddBlob stores blob bytes on the contract and returns the stored
	// content address with the submitting transaction.
	AddBlob(ctx context.Context, data []byte) ([32]byte, *types.Transaction, error)

	// GetBlob returns the bytes stored under a content address, or an empty
	// slice if nothing is stored there.
	GetBlob(ctx context.Context, id [32]byte) ([]byte, error)
}

// OnchainStore keeps blobs on the ledger itself through the registry
// contract. Suited only to small blobs; large payloads belong on S3 or IPFS
// with just the reference registered onchain.
type OnchainStore struct {
	registry     BlobRegistry
	contractAddr interfaces.ContractAddress
	log          *slog.Logger
	locationURI  string
}

// NewOnchainStore creates a blob store backed by the registry contract.
func NewOnchainStore(registry BlobRegistry, contractAddr interfaces.ContractAddress, log *slog.Logger) *OnchainStore {
	return &OnchainStore{
		registry:     registry,
		contractAddr: contractAddr,
		log:          log,
		locationURI:  fmt.Sprintf("onchain://%x", contractAddr),
	}
}

// Put stores the blob on the contract.
func (s *OnchainStore) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	id := interfaces.ComputeBlobID(data)

	storedID, tx, err := s.registry.AddBlob(ctx, data)
	if err != nil {
		return interfaces.BlobRef{}, fmt.Errorf("failed to store blob on chain: %w", err)
	}

	if storedID != [32]byte(id) {
		s.log.Warn("Content address mismatch from contract",
			slog.String("expected", id.String()),
			slog.String("actual", fmt.Sprintf("%x", storedID)))
	}

	s.log.Debug("Stored blob on chain",
		slog.String("blob_id", id.String()),
		slog.String("tx_hash", tx.Hash().Hex()))

	return interfaces.BlobRef{ID: id, Size: int64(len(data)), UploadedAt: time.Now()}, nil
}

// Get retrieves blob bytes from the contract.
func (s *OnchainStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	data, err := s.registry.GetBlob(ctx, [32]byte(id))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blob from chain: %w", err)
	}

	if len(data) == 0 {
		return nil, interfaces.ErrBlobNotFound
	}

	s.log.Debug("Fetched blob from chain",
		slog.String("blob_id", id.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Available checks contract reachability with a read of the zero address.
func (s *OnchainStore) Available(ctx context.Context) bool {
	_, err := s.registry.GetBlob(ctx, [32]byte{})
	if err != nil {
		s.log.Debug("Onchain store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *OnchainStore) Name() string {
	ethAddr := common.BytesToAddress(s.contractAddr[:])
	return fmt.Sprintf("onchain-%s", ethAddr.Hex()[:8])
}

// LocationURI returns the URI that identifies this store.
func (s *OnchainStore) LocationURI() string {
	return s.locationURI
}
