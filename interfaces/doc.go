// Package interfaces defines the core types and contracts for the encrypted
// health-record vault: identifiers, the authorization data model, the error
// taxonomy, and the interfaces between the pipeline and its three external
// collaborators (key-server pool, blob store, ledger).
//
// The package contains no implementations. Components accept these interfaces
// and return concrete structs, so every piece of the pipeline can be exercised
// against in-memory doubles.
package interfaces
