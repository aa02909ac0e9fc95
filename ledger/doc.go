// Package ledger implements the consensus-replicated state store behind the
// record vault: record objects with append-only reference lists, the
// multi-actor authorization state, and the audit event history.
//
// Two implementations are provided. MemoryLedger keeps everything in process
// memory and backs development deployments and tests. OnchainClient talks to
// the record registry contract over an Ethereum JSON-RPC endpoint and is the
// production path.
//
// All mutations follow an optimistic-concurrency protocol: the caller submits
// the record version it read, and the ledger rejects the write with
// ErrStaleVersion if the record has moved on. The Registrar wraps this
// protocol with bounded retries for reference registration.
package ledger
