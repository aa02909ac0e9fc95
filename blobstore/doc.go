// Package blobstore provides content-addressed storage for sealed record
// blobs across multiple backend types: local filesystem, S3-compatible
// object stores, IPFS, HashiCorp Vault, and the registry contract itself.
//
// Every blob is addressed by the SHA-256 hash of its bytes, so any backend
// holding the content can serve it and retrieval integrity is verifiable
// without trusting the backend. Blobs are write-once: there is no update or
// delete operation anywhere in the package.
//
// Backends are created from location URIs through the Factory:
//
//	file:///var/lib/vault/blobs
//	s3://bucket/prefix?region=eu-central-1
//	ipfs://localhost:5001/?timeout=30s
//	vault://https://vault.example.com:8200/secret/records
//	onchain://0x1234567890abcdef1234567890abcdef12345678
//
// The MultiStore aggregates several backends for redundancy, and the Client
// wraps any store with the upload size cap enforced before network traffic.
package blobstore
