package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/accessctl"
	"github.com/medledger/record-vault-backend/blobstore"
	"github.com/medledger/record-vault-backend/interfaces"
	"github.com/medledger/record-vault-backend/ledger"
	"github.com/medledger/record-vault-backend/sealing"
)

type actor struct {
	signer *ledger.KeySigner
	caller interfaces.CallerContext
}

func newActor(t *testing.T, caps ...interfaces.CapabilityKind) actor {
	t.Helper()
	signer, err := ledger.NewEphemeralSigner(0)
	require.NoError(t, err)
	return actor{
		signer: signer,
		caller: interfaces.NewCallerContext(signer.CurrentIdentity(), caps...),
	}
}

type env struct {
	service *Service
	ledger  *ledger.MemoryLedger
	access  *accessctl.StateMachine
}

func setupEnv(t *testing.T, store interfaces.BlobStore) *env {
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

	if store == nil {
		store, err = blobstore.NewFileStore(t.TempDir(), log)
		require.NoError(t, err)
	}

	access := accessctl.NewStateMachine(l, log)
	svc, err := NewService(Config{
		Gateway:   gw,
		Blobs:     blobstore.NewClient(store, log),
		Ledger:    l,
		Access:    access,
		Threshold: 2,
		Log:       log,
	})
	require.NoError(t, err)

	return &env{service: svc, ledger: l, access: access}
}

func TestProcessAndRetrieveOwnRecord(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	patient := newActor(t)

	payload := make([]byte, 245760)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	res, err := e.service.ProcessRecord(ctx, patient.caller, payload, interfaces.RecordTypeImaging, patient.signer)
	require.NoError(t, err)
	assert.False(t, res.TxDigest.IsZero())
	assert.Greater(t, res.BlobRef.Size, int64(len(payload)))

	state, err := e.ledger.ReadRecord(ctx, res.RecordID)
	require.NoError(t, err)
	require.Len(t, state.References, 1)
	assert.Equal(t, res.Checksum, state.References[0].Checksum)

	got, err := e.service.RetrieveRecord(ctx, patient.caller, res.RecordID, patient.signer)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got.Payload))
	assert.Equal(t, interfaces.ProofBasisOwner, got.Proof.Basis)
}

func TestGranteeRetrievesAfterApproval(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	patient := newActor(t)
	clinician := newActor(t)

	payload := []byte(`{"observation":"bp 120/80"}`)
	res, err := e.service.ProcessRecord(ctx, patient.caller, payload, interfaces.RecordTypeClinicalNote, patient.signer)
	require.NoError(t, err)

	req, err := e.access.RequestAccess(ctx, clinician.caller, res.RecordID, "follow-up consult", interfaces.AccessReadOnly, clinician.signer)
	require.NoError(t, err)
	_, err = e.access.Grant(ctx, patient.caller, res.RecordID, req.ID, patient.signer)
	require.NoError(t, err)

	got, err := e.service.RetrieveRecord(ctx, clinician.caller, res.RecordID, clinician.signer)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, interfaces.ProofBasisGrant, got.Proof.Basis)
}

func TestLatestReferenceWins(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	patient := newActor(t)

	_, err := e.service.ProcessRecord(ctx, patient.caller, []byte("v1"), interfaces.RecordTypeClinicalNote, patient.signer)
	require.NoError(t, err)
	res, err := e.service.ProcessRecord(ctx, patient.caller, []byte("v2"), interfaces.RecordTypeClinicalNote, patient.signer)
	require.NoError(t, err)

	got, err := e.service.RetrieveRecord(ctx, patient.caller, res.RecordID, patient.signer)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Payload)

	state, err := e.ledger.ReadRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Len(t, state.References, 2)
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	return interfaces.BlobRef{}, interfaces.ErrBackendUnavailable
}
func (failingStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	return nil, interfaces.ErrBlobNotFound
}
func (failingStore) Available(ctx context.Context) bool { return false }
func (failingStore) Name() string                       { return "failing" }
func (failingStore) LocationURI() string                { return "file:///dev/null" }

func TestNoLedgerWriteBeforeUploadConfirmation(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, failingStore{})
	patient := newActor(t)

	_, err := e.service.ProcessRecord(ctx, patient.caller, []byte("payload"), interfaces.RecordTypeLabResult, patient.signer)
	require.ErrorIs(t, err, interfaces.ErrUploadFailure)

	// The record object was never created, let alone written to.
	recordID := interfaces.RecordIDForPatient(patient.caller.Signer)
	_, err = e.ledger.ReadRecord(ctx, recordID)
	assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

type corruptingStore struct {
	interfaces.BlobStore
}

func (s corruptingStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	data, err := s.BlobStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tampered := make([]byte, len(data))
	copy(tampered, data)
	tampered[len(tampered)/2] ^= 0xFF
	return tampered, nil
}

func TestChecksumTamperAbortsRetrieval(t *testing.T) {
	ctx := context.Background()
	log := slog.Default()

	inner, err := blobstore.NewFileStore(t.TempDir(), log)
	require.NoError(t, err)
	e := setupEnv(t, corruptingStore{BlobStore: inner})
	patient := newActor(t)

	res, err := e.service.ProcessRecord(ctx, patient.caller, []byte("vitals"), interfaces.RecordTypeClinicalNote, patient.signer)
	require.NoError(t, err)

	got, err := e.service.RetrieveRecord(ctx, patient.caller, res.RecordID, patient.signer)
	assert.ErrorIs(t, err, interfaces.ErrChecksumMismatch)
	assert.Nil(t, got)
}

func TestDeniedRetrievalIsAudited(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	patient := newActor(t)
	stranger := newActor(t)

	res, err := e.service.ProcessRecord(ctx, patient.caller, []byte("private"), interfaces.RecordTypeClinicalNote, patient.signer)
	require.NoError(t, err)

	_, err = e.service.RetrieveRecord(ctx, stranger.caller, res.RecordID, stranger.signer)
	require.ErrorIs(t, err, interfaces.ErrPermissionDenied)

	events, err := e.ledger.Events(ctx, res.RecordID, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)

	var denied bool
	for _, ev := range events {
		if ev.Kind == interfaces.EventAccessDenied && ev.Actor.Equal(stranger.caller.Signer) {
			denied = true
		}
	}
	assert.True(t, denied)
}

func TestProcessHonorsCancelledContext(t *testing.T) {
	e := setupEnv(t, nil)
	patient := newActor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.service.ProcessRecord(ctx, patient.caller, []byte("payload"), interfaces.RecordTypeClinicalNote, patient.signer)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessRejectsMismatchedSigner(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	a := newActor(t)
	b := newActor(t)

	_, err := e.service.ProcessRecord(ctx, a.caller, []byte("payload"), interfaces.RecordTypeClinicalNote, b.signer)
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied)
}

type countingObserver struct {
	stages map[string]int
	auth   map[string]int
	bytes  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{stages: map[string]int{}, auth: map[string]int{}}
}

func (o *countingObserver) RecordStage(stage string, d time.Duration, err error) { o.stages[stage]++ }
func (o *countingObserver) RecordAuthorization(decision string)                  { o.auth[decision]++ }
func (o *countingObserver) RecordBlobBytes(n int)                                { o.bytes += n }

func TestObserverSeesEveryStage(t *testing.T) {
	ctx := context.Background()
	e := setupEnv(t, nil)
	obs := newCountingObserver()
	e.service.observer = obs
	patient := newActor(t)

	res, err := e.service.ProcessRecord(ctx, patient.caller, []byte("payload"), interfaces.RecordTypeClinicalNote, patient.signer)
	require.NoError(t, err)
	_, err = e.service.RetrieveRecord(ctx, patient.caller, res.RecordID, patient.signer)
	require.NoError(t, err)

	for _, stage := range []string{"encrypt", "upload", "register", "authorize", "fetch", "verify", "decrypt"} {
		assert.Equal(t, 1, obs.stages[stage], stage)
	}
	assert.Equal(t, 1, obs.auth["granted"])
	assert.Positive(t, obs.bytes)
}
