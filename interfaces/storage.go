package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// BlobStore provides content-addressed storage for ciphertext blobs. Health
// blobs are write-once: there is deliberately no update or delete operation.
type BlobStore interface {
	// Put stores data and returns its reference. Implementations must not
	// inspect the (encrypted) payload.
	Put(ctx context.Context, data []byte, meta BlobMetadata) (BlobRef, error)

	// Get retrieves blob bytes by content address. Returns ErrBlobNotFound
	// if no backend holds the content.
	Get(ctx context.Context, id BlobID) ([]byte, error)

	// Available checks whether the store is reachable.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this store.
	LocationURI() string
}

// BlobLocation is a parsed storage backend URI of the form
// [scheme]://[auth@]host[:port][/path][?params].
type BlobLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Auth   string
}

// NewBlobLocation parses and validates a storage location URI.
// Supported schemes: file, s3, ipfs, vault, onchain.
func NewBlobLocation(uri string) (BlobLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BlobLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs", "vault", "onchain":
	default:
		return BlobLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BlobLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI.
func (loc BlobLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc BlobLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}
