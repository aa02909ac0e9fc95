package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/accessctl"
	"github.com/medledger/record-vault-backend/api/clients"
	"github.com/medledger/record-vault-backend/audit"
	"github.com/medledger/record-vault-backend/blobstore"
	"github.com/medledger/record-vault-backend/interfaces"
	"github.com/medledger/record-vault-backend/ledger"
	"github.com/medledger/record-vault-backend/pipeline"
	"github.com/medledger/record-vault-backend/sealing"
)

type testVault struct {
	server *httptest.Server
	ledger *ledger.MemoryLedger
}

func setupVault(t *testing.T) *testVault {
	t.Helper()
	log := slog.Default()

	l := ledger.NewMemoryLedger(nil)
	auth := sealing.NewLedgerAuthorizer(l)

	pool := make([]interfaces.KeyServer, 0, 3)
	for _, id := range []string{"ks-a", "ks-b", "ks-c"} {
		ks, err := sealing.NewRandomKeyServer(id, auth, log)
		require.NoError(t, err)
		pool = append(pool, ks)
	}

	gw, err := sealing.NewGateway(interfaces.ContractAddress{0xAA}, pool, log)
	require.NoError(t, err)

	store, err := blobstore.NewFileStore(t.TempDir(), log)
	require.NoError(t, err)

	access := accessctl.NewStateMachine(l, log)
	svc, err := pipeline.NewService(pipeline.Config{
		Gateway:   gw,
		Blobs:     blobstore.NewClient(store, log),
		Ledger:    l,
		Access:    access,
		Threshold: 2,
		Log:       log,
	})
	require.NoError(t, err)

	sessions := ledger.NewSignerRegistry(time.Hour)
	handler := NewHandler(svc, access, audit.NewProjector(l, log), sessions, log)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testVault{server: srv, ledger: l}
}

func (v *testVault) newClient(t *testing.T, caps ...string) *clients.VaultClient {
	t.Helper()
	c := &clients.VaultClient{ServerAddr: v.server.URL, Capabilities: caps}
	_, err := c.OpenSession(context.Background(), time.Hour)
	require.NoError(t, err)
	return c
}

func TestProcessAndRetrieveOverHTTP(t *testing.T) {
	ctx := context.Background()
	vault := setupVault(t)
	patient := vault.newClient(t)

	payload := []byte(`{"observation":"hr 62"}`)
	res, err := patient.ProcessRecord(ctx, payload, interfaces.RecordTypeClinicalNote)
	require.NoError(t, err)
	assert.False(t, res.TxDigest.IsZero())

	got, err := patient.RetrieveRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, interfaces.ProofBasisOwner, got.Basis)
	assert.Equal(t, interfaces.RecordTypeClinicalNote, got.RecordType)
}

func TestRequestGrantFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	vault := setupVault(t)
	patient := vault.newClient(t)
	clinician := vault.newClient(t)

	res, err := patient.ProcessRecord(ctx, []byte("labs"), interfaces.RecordTypeLabResult)
	require.NoError(t, err)

	// Before any grant the clinician is refused.
	_, err = clinician.RetrieveRecord(ctx, res.RecordID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	req, err := clinician.RequestAccess(ctx, res.RecordID, "pre-op review", interfaces.AccessReadOnly)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestPending, req.Status)

	perm, err := patient.GrantAccess(ctx, res.RecordID, req.ID)
	require.NoError(t, err)
	assert.True(t, perm.IsActive)

	got, err := clinician.RetrieveRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, []byte("labs"), got.Payload)

	require.NoError(t, patient.RevokeAccess(ctx, res.RecordID, perm.ID))

	_, err = clinician.RetrieveRecord(ctx, res.RecordID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestDenyFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	vault := setupVault(t)
	patient := vault.newClient(t)
	clinician := vault.newClient(t)

	res, err := patient.ProcessRecord(ctx, []byte("note"), interfaces.RecordTypeClinicalNote)
	require.NoError(t, err)

	req, err := clinician.RequestAccess(ctx, res.RecordID, "consult", interfaces.AccessReadOnly)
	require.NoError(t, err)

	require.NoError(t, patient.DenyAccess(ctx, res.RecordID, req.ID))

	// A second transition of the same request conflicts.
	_, err = patient.GrantAccess(ctx, res.RecordID, req.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
}

func TestEmergencyFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	vault := setupVault(t)
	patient := vault.newClient(t)
	responder := vault.newClient(t, string(interfaces.CapabilityMasterKey))
	vault.ledger.SetMasterCapability(responder.Identity, true)

	res, err := patient.ProcessRecord(ctx, []byte("vitals"), interfaces.RecordTypeClinicalNote)
	require.NoError(t, err)

	grant, err := responder.EmergencyAccess(ctx, res.RecordID, "unconscious patient")
	require.NoError(t, err)
	assert.True(t, grant.MasterKeyUsed)

	got, err := responder.RetrieveRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, []byte("vitals"), got.Payload)
	assert.Equal(t, interfaces.ProofBasisEmergency, got.Basis)

	trail, err := patient.AuditTrail(ctx, res.RecordID, 0)
	require.NoError(t, err)

	var emergencies int
	for _, ev := range trail.Events {
		if ev.IsEmergency {
			emergencies++
			assert.Equal(t, audit.SeverityCritical, ev.Severity)
		}
	}
	assert.Equal(t, 1, emergencies)

	require.NoError(t, patient.RevokeEmergency(ctx, res.RecordID, grant.ID))

	_, err = responder.RetrieveRecord(ctx, res.RecordID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestComplianceReportOverHTTP(t *testing.T) {
	ctx := context.Background()
	vault := setupVault(t)
	patient := vault.newClient(t)

	res, err := patient.ProcessRecord(ctx, []byte("note"), interfaces.RecordTypeClinicalNote)
	require.NoError(t, err)

	report, err := patient.ComplianceReport(ctx, res.RecordID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, res.RecordID, report.RecordID)
	assert.Equal(t, 1, report.TotalEvents)
	assert.Equal(t, 100, report.ComplianceScore)
}

func TestUnknownSessionRejected(t *testing.T) {
	ctx := context.Background()
	vault := setupVault(t)

	var impostor interfaces.PrincipalID
	impostor[0] = 0x42
	c := &clients.VaultClient{ServerAddr: vault.server.URL, Identity: impostor}

	_, err := c.ProcessRecord(ctx, []byte("data"), interfaces.RecordTypeClinicalNote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestMalformedRecordIDRejected(t *testing.T) {
	vault := setupVault(t)
	patient := vault.newClient(t)

	req, err := http.NewRequest(http.MethodGet, vault.server.URL+"/api/records/not-hex", nil)
	require.NoError(t, err)
	req.Header.Set("X-Medledger-Identity", patient.Identity.String())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
