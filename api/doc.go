/*
Package api defines the HTTP surface of the record vault: the JSON DTOs
exchanged with UI and CLI collaborators, the request headers carrying the
caller's session identity, and the mapping from the pipeline's error
taxonomy to HTTP status codes.

This package is organized into two subpackages:

1. handlers - chi request handlers over the pipeline, state machine and
audit projector

2. clients - client library for API interaction, used by vaultctl and tests

# Caller identity

Every authenticated endpoint reads the caller's principal from the
IdentityHeader and its claimed capabilities from the CapabilitiesHeader.
Sessions are opened against the sessions endpoint, which stands in for the
external authentication collaborator: the server issues an ephemeral signing
key and returns the derived identity. Claimed capabilities are never trusted
on their own; the access-control layer re-validates them against ledger
state before use.
*/
package api
