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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes environment variables that map onto config keys.
	// Example: IMGEMBED_OFFLINE_MODE -> offline_mode
	EnvPrefix = "IMGEMBED_"
)

// envAliases maps well-known variables onto config keys.
// Hugging Face tooling and proxies are usually configured this way already.
var envAliases = map[string]string{
	"HF_HUB_OFFLINE": "offline_mode",
	"HF_ENDPOINT":    "mirror_url",
	"HTTP_PROXY":     "http_proxy",
	"http_proxy":     "http_proxy",
	"HTTPS_PROXY":    "https_proxy",
	"https_proxy":    "https_proxy",
	"NO_PROXY":       "no_proxy",
	"no_proxy":       "no_proxy",
}

// Load builds a Config from defaults, an optional YAML file and the environment.
//
// Precedence (highest to lowest):
//  1. IMGEMBED_* variables (IMGEMBED_MIRROR_URL -> mirror_url)
//  2. Alias variables (HF_HUB_OFFLINE, HF_ENDPOINT, HTTP_PROXY, HTTPS_PROXY, NO_PROXY)
//  3. YAML file at configPath, skipped when configPath is empty or missing
//  4. DefaultConfig
//
// Options are applied last so command-line flags win over everything.
// The result is validated.
func Load(configPath string, opts ...Option) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envAliases[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment aliases: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile returns the file contents, or nil when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
