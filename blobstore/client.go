package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medledger/record-vault-backend/interfaces"
)

// MaxBlobSize caps a single encrypted blob at 10 MiB. Uploads over the cap
// are rejected before any backend traffic.
const MaxBlobSize = 10 << 20

// Client fronts a blob store with upload validation. All pipeline uploads go
// through it so the size cap and content addressing are enforced uniformly
// regardless of backend.
type Client struct {
	store interfaces.BlobStore
	log   *slog.Logger
}

// NewClient wraps a store with upload validation.
func NewClient(store interfaces.BlobStore, log *slog.Logger) *Client {
	return &Client{store: store, log: log}
}

// Put validates the blob and stores it. Oversized blobs fail with
// ErrUploadFailure before the backend is contacted.
func (c *Client) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	if len(data) == 0 {
		return interfaces.BlobRef{}, fmt.Errorf("%w: empty blob", interfaces.ErrUploadFailure)
	}
	if len(data) > MaxBlobSize {
		return interfaces.BlobRef{}, fmt.Errorf("%w: blob size %d exceeds %d byte limit",
			interfaces.ErrUploadFailure, len(data), MaxBlobSize)
	}

	start := time.Now()
	ref, err := c.store.Put(ctx, data, meta)
	if err != nil {
		return interfaces.BlobRef{}, fmt.Errorf("%w: %v", interfaces.ErrUploadFailure, err)
	}

	c.log.Debug("Blob uploaded",
		slog.String("blob_id", ref.ID.String()),
		slog.String("backend", c.store.Name()),
		slog.Int64("size", ref.Size),
		slog.Duration("duration", time.Since(start)))

	return ref, nil
}

// Get retrieves a blob by content address.
func (c *Client) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	return c.store.Get(ctx, id)
}

// Available reports whether the underlying store is reachable.
func (c *Client) Available(ctx context.Context) bool {
	return c.store.Available(ctx)
}

// Name returns the underlying store's identifier.
func (c *Client) Name() string {
	return c.store.Name()
}

// LocationURI returns the underlying store's URI.
func (c *Client) LocationURI() string {
	return c.store.LocationURI()
}
