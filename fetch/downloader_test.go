package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modelFiles() map[string][]byte {
	return map[string][]byte{
		"config.json":       []byte(`{"dim":4}`),
		"model.safetensors": []byte("weights"),
		"preprocessor.json": []byte(`{"size":8}`),
	}
}

func newDownloader(t *testing.T) (*cache.Cache, *Downloader) {
	t.Helper()
	c, err := cache.New(t.TempDir())
	require.NoError(t, err)
	d, err := NewDownloader(c, 2)
	require.NoError(t, err)
	t.Cleanup(d.Release)
	return c, d
}

func TestDownloader_Download(t *testing.T) {
	hub := NewTestHub()
	defer hub.Close()
	hub.AddModel(testModel, modelFiles())

	c, d := newDownloader(t)
	entry, err := d.Download(context.Background(), newHubClient(t, hub), testModel,
		[]string{"model.safetensors", "config.json", "preprocessor.json", "config.json"})
	require.NoError(t, err)

	assert.Equal(t, "mirror", entry.Manifest.Source)
	assert.Len(t, entry.Manifest.Files, 3)
	assert.Equal(t, int64(3), hub.Requests(), "duplicate names are fetched once")

	found, err := c.Lookup(testModel)
	require.NoError(t, err)
	data, err := os.ReadFile(found.Path("model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))
	require.NoError(t, c.Verify(testModel))
}

func TestDownloader_FailureLeavesNoEntry(t *testing.T) {
	hub := NewTestHub()
	defer hub.Close()
	files := modelFiles()
	delete(files, "preprocessor.json")
	hub.AddModel(testModel, files)

	c, d := newDownloader(t)
	_, err := d.Download(context.Background(), newHubClient(t, hub), testModel,
		[]string{"config.json", "model.safetensors", "preprocessor.json"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPermanentFetch)

	_, err = c.Lookup(testModel)
	assert.ErrorIs(t, err, core.ErrCacheMiss)

	leftovers, err := os.ReadDir(filepath.Join(c.Root(), ".staging"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "staging is discarded on failure")
}

func TestDownloader_ContextCanceled(t *testing.T) {
	hub := NewTestHub()
	defer hub.Close()
	hub.AddModel(testModel, modelFiles())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, d := newDownloader(t)
	_, err := d.Download(ctx, newHubClient(t, hub), testModel, []string{"config.json"})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Lookup(testModel)
	assert.ErrorIs(t, err, core.ErrCacheMiss)
}

func TestDownloader_NoFiles(t *testing.T) {
	hub := NewTestHub()
	defer hub.Close()

	_, d := newDownloader(t)
	_, err := d.Download(context.Background(), newHubClient(t, hub), testModel, nil)
	assert.Error(t, err)
}
