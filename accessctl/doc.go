// Package accessctl implements the multi-actor authorization state machine
// over the ledger: access request lifecycle, owner-granted permissions,
// one-way revocation, and master-capability emergency access.
//
// All policy invariants live here, centrally, instead of being re-checked by
// callers: self-access requests are rejected before they reach the ledger, a
// request transitions exactly once out of Pending, permission expiry is
// evaluated at use time, and every authorization outcome, including denials,
// lands in the record's event history.
package accessctl
