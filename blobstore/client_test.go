package blobstore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/interfaces"
)

func TestClientRejectsOversizedBlob(t *testing.T) {
	ctx := context.Background()
	backend := newFakeStore("backend", true)
	client := NewClient(backend, slog.Default())

	_, err := client.Put(ctx, make([]byte, MaxBlobSize+1), testMeta())
	assert.ErrorIs(t, err, interfaces.ErrUploadFailure)

	// The backend must never see an oversized blob.
	assert.Zero(t, backend.putCalls)
}

func TestClientRejectsEmptyBlob(t *testing.T) {
	ctx := context.Background()
	backend := newFakeStore("backend", true)
	client := NewClient(backend, slog.Default())

	_, err := client.Put(ctx, nil, testMeta())
	assert.ErrorIs(t, err, interfaces.ErrUploadFailure)
	assert.Zero(t, backend.putCalls)
}

func TestClientAcceptsBlobAtLimit(t *testing.T) {
	ctx := context.Background()
	backend := newFakeStore("backend", true)
	client := NewClient(backend, slog.Default())

	data := make([]byte, MaxBlobSize)
	ref, err := client.Put(ctx, data, testMeta())
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeBlobID(data), ref.ID)
}

func TestClientWrapsBackendFailure(t *testing.T) {
	ctx := context.Background()
	backend := newFakeStore("backend", true)
	backend.failPut = true
	client := NewClient(backend, slog.Default())

	_, err := client.Put(ctx, []byte("blob"), testMeta())
	assert.ErrorIs(t, err, interfaces.ErrUploadFailure)
}

func TestClientGetPassesThrough(t *testing.T) {
	ctx := context.Background()
	backend := newFakeStore("backend", true)
	client := NewClient(backend, slog.Default())

	data := []byte("stored through client")
	ref, err := client.Put(ctx, data, testMeta())
	require.NoError(t, err)

	got, err := client.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
