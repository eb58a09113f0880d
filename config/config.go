// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/imgembed/core"
)

// Default values.
const (
	DefaultModelID             = "openai/clip-vit-base-patch32"
	DefaultDirectURL           = "https://huggingface.co"
	DefaultClusteringBatchSize = 16
	DefaultDownloadConcurrency = 4
	DefaultDeviceMemoryMB      = 1024
	DefaultMaxImages           = 10000
	DefaultMaxInputBytes       = 50 * 1024 * 1024
	DefaultLogLevel            = "info"
)

// Config holds the process-wide settings read once at startup.
// Treat a validated Config as immutable; derive a core.Policy from it with Policy.
type Config struct {
	// ModelID selects the model to resolve. Format: namespace/name[@revision].
	ModelID string `koanf:"model_id"`

	// OfflineMode forbids all network access during resolution.
	OfflineMode bool `koanf:"offline_mode"`

	// MirrorURL is an optional hub mirror, e.g. "https://hf-mirror.com".
	MirrorURL string `koanf:"mirror_url"`

	// DirectURL is the default model host.
	DirectURL string `koanf:"direct_url"`

	// ModelCacheDir is the local model cache root.
	// Default: $HF_HOME/hub when HF_HOME is set, otherwise <user cache dir>/imgembed/models.
	ModelCacheDir string `koanf:"model_cache_dir"`

	// HTTPProxy, HTTPSProxy and NoProxy route hub requests. Read from the
	// standard proxy environment variables unless overridden.
	HTTPProxy  string `koanf:"http_proxy"`
	HTTPSProxy string `koanf:"https_proxy"`
	NoProxy    string `koanf:"no_proxy"`

	// ClusteringBatchSize is the maximum number of inputs per inference batch.
	ClusteringBatchSize int `koanf:"clustering_batch_size"`

	// RetryAttempts, RetryBaseDelay and RetryMultiplier bound retries of transient
	// network failures within one source.
	RetryAttempts   int           `koanf:"retry_attempts"`
	RetryBaseDelay  time.Duration `koanf:"retry_base_delay"`
	RetryMultiplier float64       `koanf:"retry_multiplier"`

	// DownloadConcurrency caps parallel file downloads for one model.
	DownloadConcurrency int `koanf:"download_concurrency"`

	// DeviceMemoryMB is the memory budget of the inference device.
	DeviceMemoryMB int `koanf:"device_memory_mb"`

	// StoreDir enables the persistent vector store when non-empty.
	StoreDir string `koanf:"store_dir"`

	// MaxImages caps how many images one collection run returns.
	MaxImages int `koanf:"max_images"`

	// MaxInputBytes rejects larger inputs as malformed.
	MaxInputBytes int64 `koanf:"max_input_bytes"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
}

// Option is a functional option for configuring a Config.
type Option func(*Config)

// WithModelID sets the model identifier.
func WithModelID(id string) Option {
	return func(c *Config) {
		c.ModelID = id
	}
}

// WithOffline toggles offline mode.
func WithOffline(offline bool) Option {
	return func(c *Config) {
		c.OfflineMode = offline
	}
}

// WithMirror sets the mirror base URL.
func WithMirror(mirror string) Option {
	return func(c *Config) {
		c.MirrorURL = mirror
	}
}

// WithDirectURL overrides the default model host.
func WithDirectURL(direct string) Option {
	return func(c *Config) {
		c.DirectURL = direct
	}
}

// WithCacheDir sets the model cache root.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.ModelCacheDir = dir
	}
}

// WithProxy sets both HTTP and HTTPS proxies.
func WithProxy(proxy string) Option {
	return func(c *Config) {
		c.HTTPProxy = proxy
		c.HTTPSProxy = proxy
	}
}

// WithBatchSize sets the maximum inference batch size.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.ClusteringBatchSize = size
	}
}

// WithRetry sets the retry bounds.
func WithRetry(attempts int, baseDelay time.Duration, multiplier float64) Option {
	return func(c *Config) {
		c.RetryAttempts = attempts
		c.RetryBaseDelay = baseDelay
		c.RetryMultiplier = multiplier
	}
}

// WithDeviceMemoryMB sets the device memory budget.
func WithDeviceMemoryMB(mb int) Option {
	return func(c *Config) {
		c.DeviceMemoryMB = mb
	}
}

// WithStoreDir enables the persistent vector store.
func WithStoreDir(dir string) Option {
	return func(c *Config) {
		c.StoreDir = dir
	}
}

// DefaultConfig returns a Config with defaults, including proxies from the environment.
func DefaultConfig() *Config {
	retry := core.DefaultRetryPolicy()
	return &Config{
		ModelID:             DefaultModelID,
		DirectURL:           DefaultDirectURL,
		ModelCacheDir:       DefaultCacheDir(),
		HTTPProxy:           proxyFromEnv("HTTP_PROXY"),
		HTTPSProxy:          proxyFromEnv("HTTPS_PROXY"),
		NoProxy:             proxyFromEnv("NO_PROXY"),
		ClusteringBatchSize: DefaultClusteringBatchSize,
		RetryAttempts:       retry.Attempts,
		RetryBaseDelay:      retry.BaseDelay,
		RetryMultiplier:     retry.Multiplier,
		DownloadConcurrency: DefaultDownloadConcurrency,
		DeviceMemoryMB:      DefaultDeviceMemoryMB,
		MaxImages:           DefaultMaxImages,
		MaxInputBytes:       DefaultMaxInputBytes,
		LogLevel:            DefaultLogLevel,
	}
}

// New creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := config.New(
//	    config.WithOffline(true),
//	    config.WithCacheDir("/srv/models"),
//	)
func New(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// DefaultCacheDir returns the platform cache location for models.
func DefaultCacheDir() string {
	if hfHome := os.Getenv("HF_HOME"); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "imgembed", "models")
	}
	return filepath.Join(".", ".imgembed-cache")
}

// proxyFromEnv reads a proxy variable, accepting the lowercase spelling too.
func proxyFromEnv(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return os.Getenv(strings.ToLower(name))
}

// Normalize puts the configuration in canonical form.
func (c *Config) Normalize() {
	c.ModelID = strings.TrimSpace(c.ModelID)
	c.MirrorURL = strings.TrimSuffix(strings.TrimSpace(c.MirrorURL), "/")
	c.DirectURL = strings.TrimSuffix(strings.TrimSpace(c.DirectURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if strings.HasPrefix(c.ModelCacheDir, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			c.ModelCacheDir = filepath.Join(home, c.ModelCacheDir[2:])
		}
	}
}

// Validate checks that the configuration is valid and complete.
// It normalizes the configuration first.
func (c *Config) Validate() error {
	c.Normalize()

	if _, err := core.ParseModelID(c.ModelID); err != nil {
		return fmt.Errorf("config: model_id: %w", err)
	}
	if c.ModelCacheDir == "" {
		return errors.New("config: model_cache_dir is required")
	}
	if c.MirrorURL != "" {
		if _, err := parseHTTPURL(c.MirrorURL); err != nil {
			return fmt.Errorf("config: mirror_url: %w", err)
		}
	}
	if _, err := parseHTTPURL(c.DirectURL); err != nil {
		return fmt.Errorf("config: direct_url: %w", err)
	}
	for name, proxy := range map[string]string{"http_proxy": c.HTTPProxy, "https_proxy": c.HTTPSProxy} {
		if proxy == "" {
			continue
		}
		if _, err := url.Parse(proxy); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	if c.ClusteringBatchSize < 1 {
		return errors.New("config: clustering_batch_size must be at least 1")
	}
	if c.RetryAttempts < 1 {
		return errors.New("config: retry_attempts must be at least 1")
	}
	if c.RetryBaseDelay < 0 {
		return errors.New("config: retry_base_delay cannot be negative")
	}
	if c.RetryMultiplier < 1 {
		return errors.New("config: retry_multiplier must be at least 1")
	}
	if c.DownloadConcurrency < 1 {
		return errors.New("config: download_concurrency must be at least 1")
	}
	if c.DeviceMemoryMB < 1 {
		return errors.New("config: device_memory_mb must be at least 1")
	}
	if c.MaxImages < 1 {
		return errors.New("config: max_images must be at least 1")
	}
	if c.MaxInputBytes < 1 {
		return errors.New("config: max_input_bytes must be at least 1")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// Model returns the parsed model identifier.
func (c *Config) Model() (core.ModelID, error) {
	return core.ParseModelID(c.ModelID)
}

// Policy derives the resolution policy. Call Validate first.
func (c *Config) Policy() (core.Policy, error) {
	policy := core.Policy{
		Offline:  c.OfflineMode,
		CacheDir: c.ModelCacheDir,
		Retry: core.RetryPolicy{
			Attempts:   c.RetryAttempts,
			BaseDelay:  c.RetryBaseDelay,
			Multiplier: c.RetryMultiplier,
		},
		DownloadConcurrency: c.DownloadConcurrency,
	}
	direct, err := parseHTTPURL(c.DirectURL)
	if err != nil {
		return core.Policy{}, fmt.Errorf("config: direct_url: %w", err)
	}
	policy.DirectURL = direct
	if c.MirrorURL != "" {
		u, err := parseHTTPURL(c.MirrorURL)
		if err != nil {
			return core.Policy{}, fmt.Errorf("config: mirror_url: %w", err)
		}
		policy.MirrorURL = u
	}
	if c.HTTPProxy != "" || c.HTTPSProxy != "" {
		policy.Proxy = &core.ProxyConfig{
			HTTP:    c.HTTPProxy,
			HTTPS:   c.HTTPSProxy,
			NoProxy: c.NoProxy,
		}
	}
	return policy, nil
}

// DeviceMemoryBytes returns the device budget in bytes.
func (c *Config) DeviceMemoryBytes() int64 {
	return int64(c.DeviceMemoryMB) * 1024 * 1024
}

func parseHTTPURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%q has no host", raw)
	}
	return u, nil
}
