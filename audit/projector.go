package audit

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/medledger/record-vault-backend/interfaces"
)

// Severity ranks the operational weight of an audit event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ComplianceFlags marks an event's standing under each regulatory regime.
type ComplianceFlags struct {
	GDPR  bool `json:"gdpr"`
	KVKK  bool `json:"kvkk"`
	HIPAA bool `json:"hipaa"`
}

// Compliant reports whether all three regimes are satisfied.
func (f ComplianceFlags) Compliant() bool {
	return f.GDPR && f.KVKK && f.HIPAA
}

// AuditEvent is the read-only projection of one ledger event. It is derived
// on every query, never stored.
type AuditEvent struct {
	ID          string               `json:"id"`
	Timestamp   time.Time            `json:"timestamp"`
	EventType   interfaces.EventKind `json:"event_type"`
	Actor       string               `json:"actor"`
	Target      string               `json:"target"`
	Details     map[string]string    `json:"details,omitempty"`
	Compliance  ComplianceFlags      `json:"compliance"`
	Severity    Severity             `json:"severity"`
	IsEmergency bool                 `json:"is_emergency"`
	IsRevocable bool                 `json:"is_revocable"`
	TxDigest    string               `json:"tx_digest"`
}

// Summary aggregates a record's full audit trail.
type Summary struct {
	TotalEvents     int `json:"total_events"`
	EmergencyEvents int `json:"emergency_events"`
	ComplianceScore int `json:"compliance_score"`
	CriticalAlerts  int `json:"critical_alerts"`
}

// RegimePercentages is the per-regime compliance rate over a report window.
type RegimePercentages struct {
	GDPR  int `json:"gdpr"`
	KVKK  int `json:"kvkk"`
	HIPAA int `json:"hipaa"`
}

// ComplianceReport is a windowed view of the audit trail with violation
// counts and per-regime percentages.
type ComplianceReport struct {
	RecordID        interfaces.RecordID `json:"record_id"`
	Start           time.Time           `json:"start"`
	End             time.Time           `json:"end"`
	TotalEvents     int                 `json:"total_events"`
	Violations      int                 `json:"violations"`
	ComplianceScore int                 `json:"compliance_score"`
	PerRegime       RegimePercentages   `json:"per_regime"`
	Events          []AuditEvent        `json:"events"`
}

// Projector derives audit trails from ledger event history.
type Projector struct {
	ledger interfaces.Ledger
	log    *slog.Logger
}

// NewProjector creates a projector over the given ledger.
func NewProjector(ledger interfaces.Ledger, log *slog.Logger) *Projector {
	return &Projector{ledger: ledger, log: log}
}

// Events returns the record's audit trail, oldest first, capped at limit.
func (p *Projector) Events(ctx context.Context, recordID interfaces.RecordID, limit int) ([]AuditEvent, error) {
	raw, err := p.ledger.Events(ctx, recordID, time.Time{}, time.Time{}, limit)
	if err != nil {
		return nil, err
	}
	return projectAll(raw), nil
}

// Summary aggregates the record's full trail.
func (p *Projector) Summary(ctx context.Context, recordID interfaces.RecordID) (*Summary, error) {
	events, err := p.Events(ctx, recordID, 0)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		TotalEvents:     len(events),
		ComplianceScore: score(events),
	}
	for _, ev := range events {
		if ev.IsEmergency {
			s.EmergencyEvents++
		}
		if ev.Severity == SeverityCritical {
			s.CriticalAlerts++
		}
	}
	return s, nil
}

// Report builds a windowed compliance report. Zero start/end mean an
// unbounded window on that side.
func (p *Projector) Report(ctx context.Context, recordID interfaces.RecordID, start, end time.Time) (*ComplianceReport, error) {
	raw, err := p.ledger.Events(ctx, recordID, start, end, 0)
	if err != nil {
		return nil, err
	}

	events := projectAll(raw)
	report := &ComplianceReport{
		RecordID:        recordID,
		Start:           start,
		End:             end,
		TotalEvents:     len(events),
		ComplianceScore: score(events),
		PerRegime:       regimePercentages(events),
		Events:          events,
	}
	for _, ev := range events {
		if !ev.Compliance.Compliant() {
			report.Violations++
		}
	}
	return report, nil
}

func projectAll(raw []interfaces.LedgerEvent) []AuditEvent {
	events := make([]AuditEvent, 0, len(raw))
	for _, ev := range raw {
		events = append(events, project(ev))
	}
	return events
}

// project maps a ledger event to its audit view: severity by event kind,
// compliance flags from the recorded context.
func project(ev interfaces.LedgerEvent) AuditEvent {
	out := AuditEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.Kind,
		Actor:     ev.Actor.String(),
		Target:    ev.Target,
		Details:   ev.Details,
		TxDigest:  ev.TxDigest.String(),
	}

	switch ev.Kind {
	case interfaces.EventEmergencyAccess:
		out.Severity = SeverityCritical
		out.IsEmergency = true
		out.IsRevocable = true
	case interfaces.EventAccessRevoked:
		out.Severity = SeverityHigh
	case interfaces.EventRecordUploaded:
		out.Severity = SeverityMedium
	default:
		out.Severity = SeverityLow
	}
	if ev.Kind == interfaces.EventAccessGranted {
		out.IsRevocable = true
	}

	out.Compliance = complianceFor(ev)
	return out
}

// complianceFor evaluates an event's regulatory standing. GDPR requires an
// identified actor and a recorded time. KVKK and HIPAA additionally require
// an explicit reason on request and emergency events.
func complianceFor(ev interfaces.LedgerEvent) ComplianceFlags {
	identified := !ev.Actor.IsZero() && !ev.Timestamp.IsZero()

	reasoned := true
	switch ev.Kind {
	case interfaces.EventAccessRequested, interfaces.EventEmergencyAccess:
		reasoned = ev.Details["reason"] != ""
	}

	return ComplianceFlags{
		GDPR:  identified,
		KVKK:  identified && reasoned,
		HIPAA: identified && reasoned,
	}
}

// score is round(100 * compliant / total); an empty trail scores 100.
func score(events []AuditEvent) int {
	if len(events) == 0 {
		return 100
	}

	compliant := 0
	for _, ev := range events {
		if ev.Compliance.Compliant() {
			compliant++
		}
	}
	return int(math.Round(100 * float64(compliant) / float64(len(events))))
}

func regimePercentages(events []AuditEvent) RegimePercentages {
	if len(events) == 0 {
		return RegimePercentages{GDPR: 100, KVKK: 100, HIPAA: 100}
	}

	var gdpr, kvkk, hipaa int
	for _, ev := range events {
		if ev.Compliance.GDPR {
			gdpr++
		}
		if ev.Compliance.KVKK {
			kvkk++
		}
		if ev.Compliance.HIPAA {
			hipaa++
		}
	}

	pct := func(n int) int {
		return int(math.Round(100 * float64(n) / float64(len(events))))
	}
	return RegimePercentages{GDPR: pct(gdpr), KVKK: pct(kvkk), HIPAA: pct(hipaa)}
}
