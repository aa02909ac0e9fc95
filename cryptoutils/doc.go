// Package cryptoutils provides the symmetric primitives used by the sealing
// gateway: AES-256-GCM framing for payloads and key shares, and HKDF-based
// key derivation for binding wrapped shares to a policy identity.
//
// The package deliberately contains no identity or proof generation. Address
// derivation and transaction signatures come from the external authentication
// collaborator; nothing here is a substitute for them.
package cryptoutils
