package sealing

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/cryptoutils"
	"github.com/medledger/record-vault-backend/interfaces"
)

type allowAllAuthorizer struct{}

func (allowAllAuthorizer) Validate(ctx context.Context, identity interfaces.PrincipalID, proof interfaces.AccessProof) error {
	return nil
}

// allowOnlyAuthorizer admits a single requester and denies everyone else.
type allowOnlyAuthorizer struct {
	allowed interfaces.PrincipalID
}

func (a allowOnlyAuthorizer) Validate(ctx context.Context, identity interfaces.PrincipalID, proof interfaces.AccessProof) error {
	if proof.Requester.Equal(a.allowed) {
		return nil
	}
	return fmt.Errorf("%w: requester not allowed", interfaces.ErrPermissionDenied)
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func testPrincipal(b byte) interfaces.PrincipalID {
	var p interfaces.PrincipalID
	for i := range p {
		p[i] = b
	}
	return p
}

func newTestPool(t *testing.T, n int, auth RecordAuthorizer) []interfaces.KeyServer {
	t.Helper()
	pool := make([]interfaces.KeyServer, 0, n)
	for i := 0; i < n; i++ {
		srv, err := NewRandomKeyServer(fmt.Sprintf("ks-%d", i), auth, testLogger())
		require.NoError(t, err)
		pool = append(pool, srv)
	}
	return pool
}

func ownerProof(identity interfaces.PrincipalID) interfaces.AccessProof {
	return interfaces.AccessProof{
		RecordID:  interfaces.RecordIDForPatient(identity),
		Requester: identity,
		Basis:     interfaces.ProofBasisOwner,
		IssuedAt:  time.Now(),
	}
}

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x11)
	pool := newTestPool(t, 3, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	payload := []byte("systolic 120, diastolic 80, pulse 64")
	rec, policy, err := gw.Encrypt(ctx, payload, patient, 2)
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Len(t, rec.Shares, 3)
	assert.Equal(t, 2, rec.Policy.Threshold)

	plain, err := gw.Decrypt(ctx, rec, patient, ownerProof(patient))
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestGatewaySealedPayloadOverhead(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x22)
	pool := newTestPool(t, 3, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	payload := make([]byte, 245760)
	for i := range payload {
		payload[i] = byte(i)
	}

	rec, _, err := gw.Encrypt(ctx, payload, patient, 2)
	require.NoError(t, err)

	// The sealed payload grows by exactly nonce plus tag, nothing else.
	assert.Equal(t, len(payload)+cryptoutils.SealOverhead, len(rec.Payload))
}

func TestGatewayEnvelopeRoundTrip(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x33)
	pool := newTestPool(t, 2, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	rec, _, err := gw.Encrypt(ctx, []byte("encounter summary"), patient, 2)
	require.NoError(t, err)

	data, err := rec.Marshal()
	require.NoError(t, err)

	parsed, err := ParseSealedRecord(data)
	require.NoError(t, err)

	plain, err := gw.Decrypt(ctx, parsed, patient, ownerProof(patient))
	require.NoError(t, err)
	assert.Equal(t, []byte("encounter summary"), plain)
}

func TestGatewayDeniesUnauthorizedRequester(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x44)
	stranger := testPrincipal(0x55)
	pool := newTestPool(t, 3, allowOnlyAuthorizer{allowed: patient})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	rec, _, err := gw.Encrypt(ctx, []byte("lab panel"), patient, 2)
	require.NoError(t, err)

	proof := interfaces.AccessProof{
		RecordID:  interfaces.RecordIDForPatient(patient),
		Requester: stranger,
		Basis:     interfaces.ProofBasisGrant,
		IssuedAt:  time.Now(),
	}

	_, err = gw.Decrypt(ctx, rec, patient, proof)
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied)
}

func TestGatewayDecryptBelowQuorum(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x66)
	pool := newTestPool(t, 3, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	rec, _, err := gw.Encrypt(ctx, []byte("imaging report"), patient, 3)
	require.NoError(t, err)

	// Drop two shares so only one server can respond.
	rec.Shares = rec.Shares[:1]

	_, err = gw.Decrypt(ctx, rec, patient, ownerProof(patient))
	assert.ErrorIs(t, err, interfaces.ErrEncryptionFailure)
}

func TestGatewayThresholdOne(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x77)
	pool := newTestPool(t, 2, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	rec, _, err := gw.Encrypt(ctx, []byte("prescription"), patient, 1)
	require.NoError(t, err)

	plain, err := gw.Decrypt(ctx, rec, patient, ownerProof(patient))
	require.NoError(t, err)
	assert.Equal(t, []byte("prescription"), plain)
}

func TestGatewayRejectsExcessiveThreshold(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x88)
	pool := newTestPool(t, 2, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	_, _, err = gw.Encrypt(ctx, []byte("x"), patient, 5)
	assert.ErrorIs(t, err, interfaces.ErrPolicy)
}

func TestGatewayRejectsWrongIdentity(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0x99)
	other := testPrincipal(0xaa)
	pool := newTestPool(t, 2, allowAllAuthorizer{})

	gw, err := NewGateway(interfaces.ContractAddress{}, pool, testLogger())
	require.NoError(t, err)

	rec, _, err := gw.Encrypt(ctx, []byte("note"), patient, 2)
	require.NoError(t, err)

	_, err = gw.Decrypt(ctx, rec, other, ownerProof(other))
	assert.ErrorIs(t, err, interfaces.ErrPermissionDenied)
}

func TestParseSealedRecordMalformed(t *testing.T) {
	cases := map[string][]byte{
		"not json":      []byte("definitely not json"),
		"empty object":  []byte("{}"),
		"short payload": []byte(`{"format":1,"shares":[{"server_id":"a"}],"payload":"AAA=","policy":{"threshold":1}}`),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSealedRecord(data)
			assert.ErrorIs(t, err, interfaces.ErrEncryptionFailure)
		})
	}
}

func TestPolicyKeyServerShareBinding(t *testing.T) {
	ctx := context.Background()
	patient := testPrincipal(0xbb)
	srv, err := NewRandomKeyServer("ks-bind", allowAllAuthorizer{}, testLogger())
	require.NoError(t, err)

	var digestA, digestB [32]byte
	digestA[0] = 1
	digestB[0] = 2

	wrapped, err := srv.Wrap(ctx, make([]byte, 33), 0, digestA, patient)
	require.NoError(t, err)

	// Tampering with the digest must make the unwrap fail.
	wrapped.PolicyDigest = digestB
	_, err = srv.Release(ctx, wrapped, patient, ownerProof(patient))
	assert.ErrorIs(t, err, interfaces.ErrEncryptionFailure)
}
