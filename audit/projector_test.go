package audit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/interfaces"
	"github.com/medledger/record-vault-backend/ledger"
)

func setupTrail(t *testing.T) (*Projector, *ledger.MemoryLedger, *ledger.KeySigner, interfaces.RecordID) {
	t.Helper()
	l := ledger.NewMemoryLedger(nil)
	signer, err := ledger.NewEphemeralSigner(0)
	require.NoError(t, err)

	recordID := interfaces.RecordIDForPatient(signer.CurrentIdentity())
	require.NoError(t, l.EnsureRecord(context.Background(), recordID, signer.CurrentIdentity(), signer))

	return NewProjector(l, slog.Default()), l, signer, recordID
}

func appendEvent(t *testing.T, l *ledger.MemoryLedger, signer *ledger.KeySigner, recordID interfaces.RecordID, kind interfaces.EventKind, details map[string]string) {
	t.Helper()
	_, err := l.AppendEvent(context.Background(), interfaces.LedgerEvent{
		RecordID: recordID,
		Kind:     kind,
		Actor:    signer.CurrentIdentity(),
		Target:   "test",
		Details:  details,
	}, signer)
	require.NoError(t, err)
}

func TestSeverityMapping(t *testing.T) {
	cases := []struct {
		kind     interfaces.EventKind
		severity Severity
	}{
		{interfaces.EventEmergencyAccess, SeverityCritical},
		{interfaces.EventAccessRevoked, SeverityHigh},
		{interfaces.EventRecordUploaded, SeverityMedium},
		{interfaces.EventAccessRequested, SeverityLow},
		{interfaces.EventAccessGranted, SeverityLow},
		{interfaces.EventAccessDenied, SeverityLow},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			var actor interfaces.PrincipalID
			actor[0] = 0x01

			ev := project(interfaces.LedgerEvent{
				Kind:      tc.kind,
				Actor:     actor,
				Timestamp: time.Now(),
				Details:   map[string]string{"reason": "x"},
			})
			assert.Equal(t, tc.severity, ev.Severity)
		})
	}
}

func TestEmergencyEventFlags(t *testing.T) {
	var actor interfaces.PrincipalID
	actor[0] = 0x02

	ev := project(interfaces.LedgerEvent{
		Kind:      interfaces.EventEmergencyAccess,
		Actor:     actor,
		Timestamp: time.Now(),
		Details:   map[string]string{"reason": "unconscious patient"},
	})

	assert.True(t, ev.IsEmergency)
	assert.True(t, ev.IsRevocable)
	assert.True(t, ev.Compliance.Compliant())
}

func TestComplianceRequiresReason(t *testing.T) {
	var actor interfaces.PrincipalID
	actor[0] = 0x03

	// Emergency access recorded without a reason fails KVKK and HIPAA but
	// still satisfies GDPR's identification requirement.
	ev := project(interfaces.LedgerEvent{
		Kind:      interfaces.EventEmergencyAccess,
		Actor:     actor,
		Timestamp: time.Now(),
	})

	assert.True(t, ev.Compliance.GDPR)
	assert.False(t, ev.Compliance.KVKK)
	assert.False(t, ev.Compliance.HIPAA)
	assert.False(t, ev.Compliance.Compliant())
}

func TestSummaryEmptyTrailScores100(t *testing.T) {
	p, _, _, recordID := setupTrail(t)

	s, err := p.Summary(context.Background(), recordID)
	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalEvents)
	assert.Equal(t, 100, s.ComplianceScore)
	assert.Equal(t, 0, s.CriticalAlerts)
}

func TestSummaryCountsAndScore(t *testing.T) {
	p, l, signer, recordID := setupTrail(t)

	appendEvent(t, l, signer, recordID, interfaces.EventRecordUploaded, nil)
	appendEvent(t, l, signer, recordID, interfaces.EventAccessRequested, map[string]string{"reason": "consult"})
	appendEvent(t, l, signer, recordID, interfaces.EventEmergencyAccess, map[string]string{"reason": "er admission"})
	// One non-compliant event: emergency without a recorded reason.
	appendEvent(t, l, signer, recordID, interfaces.EventEmergencyAccess, nil)

	s, err := p.Summary(context.Background(), recordID)
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalEvents)
	assert.Equal(t, 2, s.EmergencyEvents)
	assert.Equal(t, 2, s.CriticalAlerts)
	// 3 of 4 compliant.
	assert.Equal(t, 75, s.ComplianceScore)
}

func TestReportWindowFilters(t *testing.T) {
	p, l, signer, recordID := setupTrail(t)

	appendEvent(t, l, signer, recordID, interfaces.EventRecordUploaded, nil)
	appendEvent(t, l, signer, recordID, interfaces.EventEmergencyAccess, nil)

	// A window entirely in the future sees nothing.
	start := time.Now().Add(time.Hour)
	report, err := p.Report(context.Background(), recordID, start, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalEvents)
	assert.Equal(t, 100, report.ComplianceScore)
	assert.Equal(t, RegimePercentages{GDPR: 100, KVKK: 100, HIPAA: 100}, report.PerRegime)
}

func TestReportViolationsAndRegimes(t *testing.T) {
	p, l, signer, recordID := setupTrail(t)

	appendEvent(t, l, signer, recordID, interfaces.EventRecordUploaded, nil)
	appendEvent(t, l, signer, recordID, interfaces.EventEmergencyAccess, nil)

	report, err := p.Report(context.Background(), recordID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalEvents)
	assert.Equal(t, 1, report.Violations)
	assert.Equal(t, 50, report.ComplianceScore)
	assert.Equal(t, RegimePercentages{GDPR: 100, KVKK: 50, HIPAA: 50}, report.PerRegime)
}

func TestEventsLimit(t *testing.T) {
	p, l, signer, recordID := setupTrail(t)

	for i := 0; i < 5; i++ {
		appendEvent(t, l, signer, recordID, interfaces.EventAccessRequested, map[string]string{"reason": "r"})
	}

	events, err := p.Events(context.Background(), recordID, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
