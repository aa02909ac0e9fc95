package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/medledger/record-vault-backend/interfaces"
)

// IPFSStore keeps blobs on an IPFS node. IPFS addresses content by its own
// CID format, so the store maintains an index from blob content addresses to
// the CIDs returned at upload time.
type IPFSStore struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string

	mu   sync.RWMutex
	cids map[interfaces.BlobID]string
}

// NewIPFSStore creates a blob store connected to the IPFS API at host:port.
func NewIPFSStore(host, port, timeout string, log *slog.Logger) (*IPFSStore, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSStore{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/?timeout=%s", apiURL, timeout),
		cids:        make(map[interfaces.BlobID]string),
	}, nil
}

// Put adds the blob to IPFS and records its CID under the content address.
// Returns ErrBackendUnavailable if the node is not reachable.
func (s *IPFSStore) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	id := interfaces.ComputeBlobID(data)

	if !s.shell.IsUp() {
		return interfaces.BlobRef{}, interfaces.ErrBackendUnavailable
	}

	cid, err := s.shell.Add(bytes.NewReader(data))
	if err != nil {
		return interfaces.BlobRef{}, fmt.Errorf("failed to add blob to IPFS: %w", err)
	}

	s.mu.Lock()
	s.cids[id] = cid
	s.mu.Unlock()

	s.log.Debug("Stored blob in IPFS",
		slog.String("blob_id", id.String()),
		slog.String("cid", cid),
		slog.String("record_id", meta.RecordID.String()))

	return interfaces.BlobRef{ID: id, Size: int64(len(data)), UploadedAt: time.Now()}, nil
}

// Get retrieves a blob by content address via its recorded CID.
func (s *IPFSStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	start := time.Now()

	s.mu.RLock()
	cid, ok := s.cids[id]
	s.mu.RUnlock()
	if !ok {
		return nil, interfaces.ErrBlobNotFound
	}

	if !s.shell.IsUp() {
		s.log.Warn("IPFS node unavailable",
			slog.String("host", s.host),
			slog.String("port", s.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := s.shell.Cat(cid)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") {
			return nil, interfaces.ErrBlobNotFound
		}
		s.log.Error("Failed to fetch blob from IPFS",
			slog.String("blob_id", id.String()),
			slog.String("cid", cid),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to fetch blob from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob from IPFS: %w", err)
	}

	s.log.Debug("Fetched blob from IPFS",
		slog.String("blob_id", id.String()),
		slog.String("cid", cid),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Available checks if the IPFS node is reachable.
func (s *IPFSStore) Available(ctx context.Context) bool {
	return s.shell.IsUp()
}

// Name returns a unique identifier for this store.
func (s *IPFSStore) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", s.host, s.port)
}

// LocationURI returns the URI that identifies this store.
func (s *IPFSStore) LocationURI() string {
	return s.locationURI
}
