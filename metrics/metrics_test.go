package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageCounters(t *testing.T) {
	m, err := New("test_vault", "127.0.0.1:0")
	require.NoError(t, err)

	m.RecordStage("encrypt", 5*time.Millisecond, nil)
	m.RecordStage("encrypt", 7*time.Millisecond, errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.stageTotal.WithLabelValues("encrypt")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stageFailures.WithLabelValues("encrypt")))
}

func TestAuthorizationAndByteCounters(t *testing.T) {
	m, err := New("test_vault", "127.0.0.1:0")
	require.NoError(t, err)

	m.RecordAuthorization("granted")
	m.RecordAuthorization("denied")
	m.RecordAuthorization("denied")
	m.RecordBlobBytes(1024)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.authDecisions.WithLabelValues("granted")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.authDecisions.WithLabelValues("denied")))
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.blobBytes))
}
