package blobstore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medledger/record-vault-backend/interfaces"
)

// RegistryResolver returns a blob registry client for a contract address.
// The factory uses it to build onchain stores.
type RegistryResolver func(addr interfaces.ContractAddress) (BlobRegistry, error)

// Factory creates blob stores from location URIs and assembles multi-backend
// configurations for redundant storage.
type Factory struct {
	log      *slog.Logger
	registry RegistryResolver
}

// NewFactory creates a blob store factory. The resolver may be nil if no
// onchain backends are configured.
func NewFactory(log *slog.Logger, registry RegistryResolver) *Factory {
	return &Factory{log: log, registry: registry}
}

// StoreFor creates a blob store from a location URI.
//
// Supported schemes:
//   - file:// local filesystem storage
//   - s3://   Amazon S3 or compatible object storage
//   - ipfs:// IPFS node
//   - vault:// HashiCorp Vault KV v2 mount
//   - onchain:// registry contract storage
func (f *Factory) StoreFor(uri string) (interfaces.BlobStore, error) {
	loc, err := interfaces.NewBlobLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "file":
		return f.createFileStore(loc)
	case "s3":
		return f.createS3Store(loc)
	case "ipfs":
		return f.createIPFSStore(loc)
	case "vault":
		return f.createVaultStore(loc)
	case "onchain":
		return f.createOnchainStore(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiStore builds a multi-backend store from a list of URIs. URIs
// that fail to produce a backend are logged and skipped; at least one must
// succeed.
func (f *Factory) CreateMultiStore(uris []string) (interfaces.BlobStore, error) {
	stores := make([]interfaces.BlobStore, 0, len(uris))

	for _, uri := range uris {
		store, err := f.StoreFor(uri)
		if err != nil {
			f.log.Warn("Failed to create blob store",
				"err", err,
				slog.String("location_uri", uri))
			continue
		}
		stores = append(stores, store)
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("no valid blob stores created")
	}
	if len(stores) == 1 {
		return stores[0], nil
	}

	return NewMultiStore(stores, f.log), nil
}

// createFileStore handles file:///absolute/path and file://host/path forms.
func (f *Factory) createFileStore(loc interfaces.BlobLocation) (interfaces.BlobStore, error) {
	f.log.Debug("Creating file store", slog.String("uri", loc.Raw))

	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %q", interfaces.ErrInvalidLocationURI, loc.Raw)
	}

	return NewFileStore(path, f.log)
}

// createS3Store handles s3://[KEY:SECRET@]bucket/prefix?region=..&endpoint=..
func (f *Factory) createS3Store(loc interfaces.BlobLocation) (interfaces.BlobStore, error) {
	f.log.Debug("Creating S3 store", slog.String("bucket", loc.Host))

	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := loc.GetParam("endpoint")

	var accessKey, secretKey string
	if loc.Auth != "" {
		parts := strings.SplitN(loc.Auth, ":", 2)
		accessKey = parts[0]
		if len(parts) == 2 {
			secretKey = parts[1]
		}
	}

	prefix := strings.TrimPrefix(loc.Path, "/")
	return NewS3Store(loc.Host, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSStore handles ipfs://host:port/?timeout=30s.
func (f *Factory) createIPFSStore(loc interfaces.BlobLocation) (interfaces.BlobStore, error) {
	f.log.Debug("Creating IPFS store", slog.String("uri", loc.Raw))

	host := loc.Host
	port := "5001"
	if idx := strings.LastIndex(loc.Host, ":"); idx >= 0 {
		host = loc.Host[:idx]
		port = loc.Host[idx+1:]
	}

	timeout := loc.GetParam("timeout")
	if timeout == "" {
		timeout = "30s"
	}

	return NewIPFSStore(host, port, timeout, f.log)
}

// createVaultStore handles vault://address/mount/path?token=...
func (f *Factory) createVaultStore(loc interfaces.BlobLocation) (interfaces.BlobStore, error) {
	f.log.Debug("Creating Vault store", slog.String("host", loc.Host))

	parts := strings.SplitN(strings.Trim(loc.Path, "/"), "/", 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: vault URI needs mount and data path", interfaces.ErrInvalidLocationURI)
	}

	address := "https://" + loc.Host
	if loc.GetParam("scheme") == "http" {
		address = "http://" + loc.Host
	}

	return NewVaultStore(address, parts[0], parts[1], loc.GetParam("token"), f.log)
}

// createOnchainStore handles onchain://0x<contract-address>.
func (f *Factory) createOnchainStore(loc interfaces.BlobLocation) (interfaces.BlobStore, error) {
	f.log.Debug("Creating onchain store", slog.String("uri", loc.Raw))

	if !common.IsHexAddress(loc.Host) {
		return nil, fmt.Errorf("%w: invalid contract address %q", interfaces.ErrInvalidLocationURI, loc.Host)
	}

	if f.registry == nil {
		return nil, fmt.Errorf("registry resolver not configured")
	}

	var addr interfaces.ContractAddress
	copy(addr[:], common.HexToAddress(loc.Host).Bytes())

	registry, err := f.registry(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry for contract: %w", err)
	}

	return NewOnchainStore(registry, addr, f.log), nil
}
