package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/imgembed/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = core.MustParseModelID("acme/encoder")

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), WithLockTimeout(time.Second))
	require.NoError(t, err)
	return c
}

func stage(t *testing.T, c *Cache, id core.ModelID, files map[string]string) *Staging {
	t.Helper()
	s, err := c.NewStaging(id)
	require.NoError(t, err)
	for name, content := range files {
		w, err := s.Create(name)
		require.NoError(t, err)
		_, err = io.Copy(w, strings.NewReader(content))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	return s
}

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestLookup_Missing(t *testing.T) {
	c := newTestCache(t)

	_, err := c.Lookup(testID)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	assert.True(t, IsMiss(err))
}

func TestPromote_CreatesEntry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	s := stage(t, c, testID, map[string]string{
		"config.json":       `{"dim":4}`,
		"model.safetensors": "weights",
		"nested/extra.json": "{}",
	})
	stagingDir := s.Dir()

	entry, err := c.Promote(ctx, s, "mirror")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Root(), "models--acme--encoder"), entry.Dir)
	assert.Equal(t, "mirror", entry.Manifest.Source)
	assert.Len(t, entry.Manifest.Files, 3)
	assert.NoDirExists(t, stagingDir)
	assert.FileExists(t, filepath.Join(entry.Dir, MarkerName))

	info, ok := entry.Manifest.File("model.safetensors")
	require.True(t, ok)
	assert.Equal(t, int64(len("weights")), info.Size)
	assert.Equal(t, sha("weights"), info.SHA256)

	found, err := c.Lookup(testID)
	require.NoError(t, err)
	assert.Equal(t, entry.Dir, found.Dir)

	data, err := os.ReadFile(found.Path("nested/extra.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	require.NoError(t, c.Verify(testID))
}

func TestLookup_RejectsDirectoryWithoutMarker(t *testing.T) {
	c := newTestCache(t)

	dir := filepath.Join(c.Root(), testID.CacheDirName())
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), []byte("partial"), 0644))

	_, err := c.Lookup(testID)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	assert.ErrorIs(t, err, ErrIncomplete)

	entries, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A later promotion replaces the leftover directory.
	entry, err := c.Promote(context.Background(), stage(t, c, testID, map[string]string{"model.safetensors": "complete"}), "direct")
	require.NoError(t, err)
	data, err := os.ReadFile(entry.Path("model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, "complete", string(data))
}

func TestInterruptedDownloadLeavesNoEntry(t *testing.T) {
	c := newTestCache(t)

	s, err := c.NewStaging(testID)
	require.NoError(t, err)
	w, err := s.Create("model.safetensors")
	require.NoError(t, err)
	_, err = w.Write([]byte("half a fi"))
	require.NoError(t, err)
	w.Abort()

	assert.False(t, s.Has("model.safetensors"))
	_, err = c.Lookup(testID)
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	removed, err := c.CleanStaging(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoDirExists(t, s.Dir())
}

func TestCleanStaging_KeepsFreshDirectories(t *testing.T) {
	c := newTestCache(t)

	fresh := stage(t, c, testID, map[string]string{"a": "1"})
	old := stage(t, c, core.MustParseModelID("acme/other"), map[string]string{"a": "1"})
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old.Dir(), past, past))

	removed, err := c.CleanStaging(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.DirExists(t, fresh.Dir())
	assert.NoDirExists(t, old.Dir())
}

func TestPromote_SecondPromotionReusesWinner(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	first, err := c.Promote(ctx, stage(t, c, testID, map[string]string{"model.safetensors": "one"}), "mirror")
	require.NoError(t, err)

	loser := stage(t, c, testID, map[string]string{"model.safetensors": "two"})
	second, err := c.Promote(ctx, loser, "direct")
	require.NoError(t, err)

	assert.Equal(t, first.Dir, second.Dir)
	assert.Equal(t, "mirror", second.Manifest.Source)
	assert.NoDirExists(t, loser.Dir())

	data, err := os.ReadFile(second.Path("model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
}

func TestPromote_ConcurrentPromotionsCommitOnce(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	const writers = 8
	stagings := make([]*Staging, writers)
	for i := range stagings {
		stagings[i] = stage(t, c, testID, map[string]string{"model.safetensors": "weights"})
	}

	entries := make([]*Entry, writers)
	var wg sync.WaitGroup
	for i := range stagings {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.Promote(ctx, stagings[i], "direct")
			assert.NoError(t, err)
			entries[i] = entry
		}(i)
	}
	wg.Wait()

	for _, e := range entries {
		require.NotNil(t, e)
		assert.True(t, entries[0].Manifest.CompletedAt.Equal(e.Manifest.CompletedAt), "all writers see one commit")
		assert.Equal(t, entries[0].Dir, e.Dir)
	}
	leftovers, err := os.ReadDir(filepath.Join(c.Root(), stagingDirName))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPromote_Errors(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	t.Run("empty staging", func(t *testing.T) {
		s, err := c.NewStaging(testID)
		require.NoError(t, err)
		_, err = c.Promote(ctx, s, "direct")
		assert.ErrorIs(t, err, ErrEmptyStaging)
		assert.NoDirExists(t, s.Dir())
	})

	t.Run("promote twice", func(t *testing.T) {
		s := stage(t, c, testID, map[string]string{"a": "1"})
		_, err := c.Promote(ctx, s, "direct")
		require.NoError(t, err)
		_, err = c.Promote(ctx, s, "direct")
		assert.ErrorIs(t, err, ErrStagingClosed)
	})

	t.Run("file changed after recording", func(t *testing.T) {
		s := stage(t, c, core.MustParseModelID("acme/changed"), map[string]string{"a": "1234"})
		require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "a"), []byte("12"), 0644))
		_, err := c.Promote(ctx, s, "direct")
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("create after discard", func(t *testing.T) {
		s := stage(t, c, testID, nil)
		require.NoError(t, s.Discard())
		_, err := s.Create("a")
		assert.ErrorIs(t, err, ErrStagingClosed)
	})
}

func TestStaging_InvalidNames(t *testing.T) {
	c := newTestCache(t)
	s, err := c.NewStaging(testID)
	require.NoError(t, err)

	for _, name := range []string{"", "../escape", "/abs/path", MarkerName, `dir\file`} {
		_, err := s.Create(name)
		assert.ErrorIs(t, err, ErrInvalidFileName, "name %q", name)
	}
}

func TestLookup_DetectsTruncation(t *testing.T) {
	c := newTestCache(t)
	entry, err := c.Promote(context.Background(), stage(t, c, testID, map[string]string{"model.safetensors": "weights"}), "direct")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(entry.Path("model.safetensors"), []byte("w"), 0644))

	_, err = c.Lookup(testID)
	assert.ErrorIs(t, err, core.ErrCacheMiss)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestVerify_DetectsCorruption(t *testing.T) {
	c := newTestCache(t)
	entry, err := c.Promote(context.Background(), stage(t, c, testID, map[string]string{"model.safetensors": "weights"}), "direct")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(entry.Path("model.safetensors"), []byte("WEIGHTS"), 0644))

	_, err = c.Lookup(testID)
	require.NoError(t, err, "same size passes the cheap check")
	assert.ErrorIs(t, c.Verify(testID), ErrIntegrity)
}

func TestEvictAndList(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	other := core.MustParseModelID("acme/encoder@v2")

	_, err := c.Promote(ctx, stage(t, c, testID, map[string]string{"a": "1"}), "direct")
	require.NoError(t, err)
	_, err = c.Promote(ctx, stage(t, c, other, map[string]string{"a": "2"}), "mirror")
	require.NoError(t, err)

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	names := []string{entries[0].ID.String(), entries[1].ID.String()}
	assert.ElementsMatch(t, []string{"acme/encoder", "acme/encoder@v2"}, names)

	require.NoError(t, c.Evict(ctx, testID))
	_, err = c.Lookup(testID)
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	entries, err = c.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, other, entries[0].ID)

	require.NoError(t, c.Evict(ctx, testID), "evicting a missing entry is a no-op")
}

func TestNew_RejectsEmptyRoot(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, core.ErrInvalidPath)
}
