package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectors")
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.IsClosed())
	assert.DirExists(t, dir)
}

func TestOpen_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := Open(path)
	assert.ErrorContains(t, err, "not a directory")
}

func TestStore_PutGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "acme/encoder", "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	vec := []float32{0.5, -0.25, 0, 1}
	require.NoError(t, s.Put(ctx, "acme/encoder", "k1", vec))

	got, ok, err := s.Get(ctx, "acme/encoder", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, vec, got)

	_, ok, err = s.Get(ctx, "acme/other", "k1")
	require.NoError(t, err)
	assert.False(t, ok, "vectors are scoped to their model")
}

func TestStore_PutReplaces(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "acme/encoder", "k1", []float32{1, 0}))
	require.NoError(t, s.Put(ctx, "acme/encoder", "k1", []float32{0, 1}))

	got, _, err := s.Get(ctx, "acme/encoder", "k1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, got)
}

func TestStore_RecordTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := OpenMemory(WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "acme/encoder", "k1", []float32{1}))
	rec, err := s.GetRecord(ctx, "acme/encoder", "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "acme/encoder", rec.Model)
	assert.True(t, now.Equal(rec.CreatedAt))
}

func TestStore_CountAndDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, "acme/encoder", key, []float32{1}))
	}
	require.NoError(t, s.Put(ctx, "acme/encoder-large", "a", []float32{1}))

	n, err := s.Count(ctx, "acme/encoder")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Delete(ctx, "acme/encoder")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, "acme/encoder")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Count(ctx, "acme/encoder-large")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "prefix of another model is untouched")

	n, err = s.Delete(ctx, "acme/missing")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "acme/encoder", "k1", []float32{0.1, 0.2}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get(ctx, "acme/encoder", "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.1, 0.2}, got)
}

func TestStore_Errors(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Put(ctx, "", "k", []float32{1}), ErrInvalidKey)
	_, _, err := s.Get(ctx, "acme/encoder", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.Put(cancelled, "acme/encoder", "k", []float32{1}), context.Canceled)

	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.Put(ctx, "acme/encoder", "k", []float32{1}), ErrClosed)
}

func TestStore_FindSimilar(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "acme/encoder", "east", []float32{1, 0}))
	require.NoError(t, s.Put(ctx, "acme/encoder", "north", []float32{0, 1}))
	require.NoError(t, s.Put(ctx, "acme/encoder", "northeast", []float32{0.7071, 0.7071}))
	require.NoError(t, s.Put(ctx, "acme/other", "east", []float32{1, 0}))

	matches, err := s.FindSimilar(ctx, "acme/encoder", []float32{1, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "east", matches[0].Key)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "northeast", matches[1].Key)

	matches, err = s.FindSimilar(ctx, "acme/encoder", []float32{1, 0}, -1, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "east", matches[0].Key)

	matches, err = s.FindSimilar(ctx, "acme/missing", []float32{1, 0}, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
