package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/medledger/record-vault-backend/interfaces"
)

// FileStore keeps blobs on the local filesystem under a single directory,
// one file per content address.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a filesystem-backed blob store rooted at baseDir.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	blobDir := filepath.Join(baseDir, "blobs")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put writes the blob under its content address. An existing file with the
// same address already holds identical bytes, so the write is skipped.
func (s *FileStore) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	id := interfaces.ComputeBlobID(data)
	path := s.blobPath(id)

	if _, err := os.Stat(path); err == nil {
		s.log.Debug("Blob already present",
			slog.String("blob_id", id.String()),
			slog.String("path", path))
		return interfaces.BlobRef{ID: id, Size: int64(len(data)), UploadedAt: time.Now()}, nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return interfaces.BlobRef{}, fmt.Errorf("failed to write blob file: %w", err)
	}

	s.log.Debug("Stored blob on filesystem",
		slog.String("blob_id", id.String()),
		slog.String("record_id", meta.RecordID.String()),
		slog.String("path", path),
		slog.Int("size", len(data)))

	return interfaces.BlobRef{ID: id, Size: int64(len(data)), UploadedAt: time.Now()}, nil
}

// Get reads a blob by content address. Returns ErrBlobNotFound if the file
// does not exist.
func (s *FileStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	path := s.blobPath(id)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, interfaces.ErrBlobNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob file: %w", err)
	}

	s.log.Debug("Fetched blob from filesystem",
		slog.String("blob_id", id.String()),
		slog.Int("size", len(data)))

	return data, nil
}

// Available checks that the base directory still exists.
func (s *FileStore) Available(ctx context.Context) bool {
	_, err := os.Stat(s.baseDir)
	if err != nil {
		s.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}

func (s *FileStore) blobPath(id interfaces.BlobID) string {
	return filepath.Join(s.baseDir, "blobs", id.String())
}
