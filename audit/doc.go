// Package audit projects the ledger's event history into a typed audit
// trail with per-event severity and regulatory compliance flags, plus
// aggregate summaries and windowed compliance reports.
//
// Audit events are never persisted on their own. They are reconstructed from
// ledger history on every query, so the trail cannot drift from the ledger's
// authoritative record.
package audit
