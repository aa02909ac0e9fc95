package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medledger/record-vault-backend/interfaces"
)

// MultiStore aggregates several blob stores for redundancy. Uploads go to
// every available backend; retrieval returns the first hit. Content
// addressing keeps the replicas consistent: the same bytes produce the same
// address everywhere.
type MultiStore struct {
	stores []interfaces.BlobStore
	log    *slog.Logger
}

// NewMultiStore creates a multi-backend blob store.
func NewMultiStore(stores []interfaces.BlobStore, log *slog.Logger) *MultiStore {
	if log == nil {
		log = slog.Default()
	}
	return &MultiStore{stores: stores, log: log}
}

// Put stores the blob on all available backends. It succeeds if at least one
// backend accepted the blob.
func (m *MultiStore) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	start := time.Now()
	var (
		result  interfaces.BlobRef
		success bool
		errs    []error
	)

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend", store.Name()))
			continue
		}

		ref, err := store.Put(ctx, data, meta)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Debug("Failed to store blob on backend",
				slog.String("backend", store.Name()),
				"err", err)
			continue
		}

		if !success {
			result = ref
			success = true
			m.log.Debug("Stored blob",
				slog.String("backend", store.Name()),
				slog.String("blob_id", ref.ID.String()),
				slog.Duration("duration", time.Since(start)))
		} else if result.ID != ref.ID {
			// Same bytes must hash to the same address everywhere.
			m.log.Warn("Inconsistent content addresses from backends",
				slog.String("backend", store.Name()),
				slog.String("expected_id", result.ID.String()),
				slog.String("actual_id", ref.ID.String()))
		}
	}

	if !success {
		m.log.Error("All backends failed to store blob",
			slog.Int("failed_backends", len(errs)),
			slog.Duration("duration", time.Since(start)))
		return interfaces.BlobRef{}, fmt.Errorf("all backends failed to store blob: %v", errs)
	}

	return result, nil
}

// Get retrieves the blob from the first backend that has it.
func (m *MultiStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, store := range m.stores {
		if !store.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend", store.Name()),
				slog.String("blob_id", id.String()))
			continue
		}

		data, err := store.Get(ctx, id)
		if err == nil {
			m.log.Debug("Fetched blob",
				slog.String("backend", store.Name()),
				slog.String("blob_id", id.String()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
	}

	m.log.Error("All backends failed to fetch blob",
		slog.String("blob_id", id.String()),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrBlobNotFound, id, errs)
}

// Available reports whether any backend is reachable.
func (m *MultiStore) Available(ctx context.Context) bool {
	for _, store := range m.stores {
		if store.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this store.
func (m *MultiStore) Name() string {
	return "multi-store"
}

// LocationURI returns a combined URI listing all backends.
func (m *MultiStore) LocationURI() string {
	locations := make([]string, 0, len(m.stores))
	for _, store := range m.stores {
		locations = append(locations, store.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
