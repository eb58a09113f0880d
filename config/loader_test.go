package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imgembed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModelID, cfg.ModelID)
	assert.False(t, cfg.OfflineMode)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultClusteringBatchSize, cfg.ClusteringBatchSize)
}

func TestLoad_YAMLFile(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, `
model_id: acme/encoder@v2
offline_mode: true
mirror_url: https://hf-mirror.com
model_cache_dir: /srv/models
clustering_batch_size: 32
retry_base_delay: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme/encoder@v2", cfg.ModelID)
	assert.True(t, cfg.OfflineMode)
	assert.Equal(t, "https://hf-mirror.com", cfg.MirrorURL)
	assert.Equal(t, "/srv/models", cfg.ModelCacheDir)
	assert.Equal(t, 32, cfg.ClusteringBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 3, cfg.RetryAttempts, "unset keys keep defaults")
}

func TestLoad_EnvironmentPrecedence(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, `
mirror_url: https://file-mirror.example
clustering_batch_size: 32
`)
	t.Setenv("HF_ENDPOINT", "https://hf-mirror.com")
	t.Setenv("HF_HUB_OFFLINE", "1")
	t.Setenv("HTTPS_PROXY", "http://corp-proxy:8080")
	t.Setenv("IMGEMBED_CLUSTERING_BATCH_SIZE", "4")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://hf-mirror.com", cfg.MirrorURL, "HF_ENDPOINT beats the file")
	assert.True(t, cfg.OfflineMode, "HF_HUB_OFFLINE=1 enables offline mode")
	assert.Equal(t, "http://corp-proxy:8080", cfg.HTTPSProxy)
	assert.Equal(t, 4, cfg.ClusteringBatchSize)
}

func TestLoad_PrefixedBeatsAlias(t *testing.T) {
	isolateEnv(t)

	t.Setenv("HF_ENDPOINT", "https://hf-mirror.com")
	t.Setenv("IMGEMBED_MIRROR_URL", "https://internal-mirror.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://internal-mirror.example", cfg.MirrorURL)
}

func TestLoad_OptionsWin(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HF_HUB_OFFLINE", "1")

	cfg, err := Load("", WithOffline(false))
	require.NoError(t, err)
	assert.False(t, cfg.OfflineMode)
}

func TestLoad_InvalidValues(t *testing.T) {
	isolateEnv(t)

	path := writeConfig(t, "clustering_batch_size: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clustering_batch_size")
}

func TestLoad_RejectsDirectory(t *testing.T) {
	isolateEnv(t)

	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}
