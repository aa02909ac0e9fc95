package blobstore

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/interfaces"
)

func testMeta() interfaces.BlobMetadata {
	var author interfaces.PrincipalID
	author[0] = 0x01
	return interfaces.BlobMetadata{
		RecordID:   interfaces.RecordIDForPatient(author),
		RecordType: interfaces.RecordTypeLabResult,
		Author:     author,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	data := []byte("sealed lab result bytes")
	ref, err := store.Put(ctx, data, testMeta())
	require.NoError(t, err)
	assert.Equal(t, interfaces.ComputeBlobID(data), ref.ID)
	assert.Equal(t, int64(len(data)), ref.Size)

	got, err := store.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStorePutIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	data := []byte("same bytes twice")
	first, err := store.Put(ctx, data, testMeta())
	require.NoError(t, err)

	second, err := store.Put(ctx, data, testMeta())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestFileStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	var missing interfaces.BlobID
	missing[0] = 0xff

	_, err = store.Get(ctx, missing)
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestFileStoreAvailable(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), slog.Default())
	require.NoError(t, err)

	assert.True(t, store.Available(ctx))
}
