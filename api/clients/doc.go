// Package clients provides the HTTP client for the record vault API. It is
// the access path used by vaultctl and by integration tests.
package clients
