package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv unsets every variable the loader reads so host settings do not leak in.
// t.Setenv registers the restore before the variable is removed.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HF_HUB_OFFLINE", "HF_ENDPOINT", "HF_HOME",
		"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "NO_PROXY", "no_proxy",
		"IMGEMBED_OFFLINE_MODE", "IMGEMBED_MIRROR_URL", "IMGEMBED_MODEL_CACHE_DIR",
		"IMGEMBED_CLUSTERING_BATCH_SIZE", "IMGEMBED_MODEL_ID",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestDefaultConfig(t *testing.T) {
	isolateEnv(t)
	cfg := DefaultConfig()

	assert.Equal(t, DefaultModelID, cfg.ModelID)
	assert.False(t, cfg.OfflineMode)
	assert.Empty(t, cfg.MirrorURL)
	assert.Equal(t, DefaultDirectURL, cfg.DirectURL)
	assert.Equal(t, 16, cfg.ClusteringBatchSize)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 2.0, cfg.RetryMultiplier)
	assert.Equal(t, 10000, cfg.MaxImages)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxInputBytes)
	assert.NotEmpty(t, cfg.ModelCacheDir)
	require.NoError(t, cfg.Validate())
}

func TestDefaultCacheDir_HFHome(t *testing.T) {
	isolateEnv(t)
	t.Setenv("HF_HOME", "/opt/hf")
	assert.Equal(t, filepath.Join("/opt/hf", "hub"), DefaultCacheDir())
}

func TestNew(t *testing.T) {
	isolateEnv(t)

	t.Run("with no options", func(t *testing.T) {
		cfg := New()
		assert.Equal(t, DefaultModelID, cfg.ModelID)
	})

	t.Run("with options", func(t *testing.T) {
		cfg := New(
			WithModelID("acme/encoder"),
			WithOffline(true),
			WithMirror("https://hf-mirror.com/"),
			WithCacheDir("/tmp/models"),
			WithProxy("http://proxy:3128"),
			WithBatchSize(8),
			WithRetry(5, 10*time.Millisecond, 3),
			WithDeviceMemoryMB(64),
			WithStoreDir("/tmp/store"),
		)
		require.NoError(t, cfg.Validate())

		assert.Equal(t, "acme/encoder", cfg.ModelID)
		assert.True(t, cfg.OfflineMode)
		assert.Equal(t, "https://hf-mirror.com", cfg.MirrorURL, "trailing slash is normalized away")
		assert.Equal(t, "/tmp/models", cfg.ModelCacheDir)
		assert.Equal(t, "http://proxy:3128", cfg.HTTPProxy)
		assert.Equal(t, "http://proxy:3128", cfg.HTTPSProxy)
		assert.Equal(t, 8, cfg.ClusteringBatchSize)
		assert.Equal(t, 5, cfg.RetryAttempts)
		assert.Equal(t, int64(64*1024*1024), cfg.DeviceMemoryBytes())
		assert.Equal(t, "/tmp/store", cfg.StoreDir)
	})
}

func TestValidate(t *testing.T) {
	isolateEnv(t)

	tests := []struct {
		name    string
		opts    []Option
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid defaults"},
		{name: "bad model id", opts: []Option{WithModelID("no-namespace")}, wantErr: "model_id"},
		{name: "mirror without scheme", opts: []Option{WithMirror("hf-mirror.com")}, wantErr: "mirror_url"},
		{name: "ftp mirror", opts: []Option{WithMirror("ftp://mirror")}, wantErr: "mirror_url"},
		{name: "zero batch size", opts: []Option{WithBatchSize(0)}, wantErr: "clustering_batch_size"},
		{name: "zero retry attempts", opts: []Option{WithRetry(0, time.Second, 2)}, wantErr: "retry_attempts"},
		{name: "small multiplier", opts: []Option{WithRetry(3, time.Second, 0.5)}, wantErr: "retry_multiplier"},
		{name: "empty cache dir", opts: []Option{WithCacheDir("")}, wantErr: "model_cache_dir"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "uppercase log level", mutate: func(c *Config) { c.LogLevel = "DEBUG" }},
		{name: "zero device memory", opts: []Option{WithDeviceMemoryMB(0)}, wantErr: "device_memory_mb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New(tt.opts...)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicy(t *testing.T) {
	isolateEnv(t)

	t.Run("defaults have no mirror or proxy", func(t *testing.T) {
		cfg := New(WithCacheDir("/tmp/models"))
		require.NoError(t, cfg.Validate())

		policy, err := cfg.Policy()
		require.NoError(t, err)
		assert.False(t, policy.Offline)
		assert.Nil(t, policy.MirrorURL)
		assert.Nil(t, policy.Proxy)
		assert.Equal(t, "huggingface.co", policy.DirectURL.Host)
		assert.Equal(t, "/tmp/models", policy.CacheDir)
		assert.Equal(t, 3, policy.Retry.Attempts)
		assert.Equal(t, DefaultDownloadConcurrency, policy.DownloadConcurrency)
	})

	t.Run("offline with mirror and proxy keeps all fields", func(t *testing.T) {
		cfg := New(WithOffline(true), WithMirror("https://hf-mirror.com"), WithProxy("http://proxy:3128"))
		require.NoError(t, cfg.Validate())

		policy, err := cfg.Policy()
		require.NoError(t, err)
		assert.True(t, policy.Offline)
		require.NotNil(t, policy.MirrorURL)
		assert.Equal(t, "hf-mirror.com", policy.MirrorURL.Host)
		require.NotNil(t, policy.Proxy)
		assert.Equal(t, "http://proxy:3128", policy.Proxy.HTTPS)
	})
}
