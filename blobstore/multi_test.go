package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medledger/record-vault-backend/interfaces"
)

// fakeStore is an in-memory blob store with togglable availability and
// operation counters.
type fakeStore struct {
	name      string
	available bool
	failPut   bool
	blobs     map[interfaces.BlobID][]byte
	putCalls  int
	getCalls  int
}

func newFakeStore(name string, available bool) *fakeStore {
	return &fakeStore{
		name:      name,
		available: available,
		blobs:     make(map[interfaces.BlobID][]byte),
	}
}

func (s *fakeStore) Put(ctx context.Context, data []byte, meta interfaces.BlobMetadata) (interfaces.BlobRef, error) {
	s.putCalls++
	if s.failPut {
		return interfaces.BlobRef{}, fmt.Errorf("put failed")
	}
	id := interfaces.ComputeBlobID(data)
	s.blobs[id] = data
	return interfaces.BlobRef{ID: id, Size: int64(len(data)), UploadedAt: time.Now()}, nil
}

func (s *fakeStore) Get(ctx context.Context, id interfaces.BlobID) ([]byte, error) {
	s.getCalls++
	data, ok := s.blobs[id]
	if !ok {
		return nil, interfaces.ErrBlobNotFound
	}
	return data, nil
}

func (s *fakeStore) Available(ctx context.Context) bool { return s.available }
func (s *fakeStore) Name() string                       { return s.name }
func (s *fakeStore) LocationURI() string                { return "fake://" + s.name }

func TestMultiStorePutReplicates(t *testing.T) {
	ctx := context.Background()
	a := newFakeStore("a", true)
	b := newFakeStore("b", true)
	multi := NewMultiStore([]interfaces.BlobStore{a, b}, slog.Default())

	data := []byte("replicated blob")
	ref, err := multi.Put(ctx, data, testMeta())
	require.NoError(t, err)

	assert.Contains(t, a.blobs, ref.ID)
	assert.Contains(t, b.blobs, ref.ID)
}

func TestMultiStoreSkipsUnavailable(t *testing.T) {
	ctx := context.Background()
	down := newFakeStore("down", false)
	up := newFakeStore("up", true)
	multi := NewMultiStore([]interfaces.BlobStore{down, up}, slog.Default())

	_, err := multi.Put(ctx, []byte("blob"), testMeta())
	require.NoError(t, err)

	assert.Zero(t, down.putCalls)
	assert.Equal(t, 1, up.putCalls)
}

func TestMultiStoreGetFallsBack(t *testing.T) {
	ctx := context.Background()
	empty := newFakeStore("empty", true)
	holder := newFakeStore("holder", true)
	multi := NewMultiStore([]interfaces.BlobStore{empty, holder}, slog.Default())

	data := []byte("held by second backend")
	ref, err := holder.Put(ctx, data, testMeta())
	require.NoError(t, err)

	got, err := multi.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, empty.getCalls)
}

func TestMultiStoreGetNotFoundAnywhere(t *testing.T) {
	ctx := context.Background()
	multi := NewMultiStore([]interfaces.BlobStore{newFakeStore("a", true)}, slog.Default())

	var missing interfaces.BlobID
	missing[0] = 0x01

	_, err := multi.Get(ctx, missing)
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestMultiStorePutAllFail(t *testing.T) {
	ctx := context.Background()
	a := newFakeStore("a", true)
	a.failPut = true
	multi := NewMultiStore([]interfaces.BlobStore{a}, slog.Default())

	_, err := multi.Put(ctx, []byte("blob"), testMeta())
	assert.Error(t, err)
}

func TestMultiStoreAvailable(t *testing.T) {
	ctx := context.Background()

	multi := NewMultiStore([]interfaces.BlobStore{
		newFakeStore("down", false),
		newFakeStore("up", true),
	}, slog.Default())
	assert.True(t, multi.Available(ctx))

	allDown := NewMultiStore([]interfaces.BlobStore{newFakeStore("down", false)}, slog.Default())
	assert.False(t, allDown.Available(ctx))
}
