// Package sealing implements the encryption gateway: identity-bound policy
// construction, AEAD sealing of record payloads, and threshold key-server
// cooperation for decryption.
//
// Every record write generates a fresh data encryption key, seals the payload
// under it, splits the key into Shamir shares, and hands one wrapped share to
// each member of the key-server pool. Decryption requires at least the policy
// threshold of servers to release their shares, and each server re-validates
// the caller's authorization against current ledger state before doing so.
// Decryption authority therefore lives in the ledger, not in any single
// server and not in the client.
package sealing
