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

// Package input collects image files to embed.
package input

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/poiesic/imgembed/core"
)

// DefaultLimit caps the number of images one collection returns.
const DefaultLimit = 10000

// PerImage is the rough per-image cost used for time estimates.
const PerImage = 150 * time.Millisecond

// Extensions lists the image types collected, lower case.
var Extensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ErrInvalidPattern is returned for a malformed glob pattern.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Collection is the result of scanning a folder.
type Collection struct {
	// Inputs are the collected images in lexical path order, at most the limit.
	Inputs []core.Input

	// Total counts every matching image, including those past the limit.
	Total int

	// Truncated is true when Total exceeds the limit.
	Truncated bool
}

// Paths returns the paths of the collected inputs.
func (c *Collection) Paths() []string {
	paths := make([]string, len(c.Inputs))
	for i, in := range c.Inputs {
		paths[i] = in.Path
	}
	return paths
}

// Estimate returns the expected embedding time for n images.
func Estimate(n int) time.Duration {
	return time.Duration(n) * PerImage
}

// Collect walks root and returns image files matching any of the patterns.
// Patterns are doublestar globs relative to root; an empty list matches every
// image. A limit below 1 means DefaultLimit.
func Collect(root string, patterns []string, limit int) (*Collection, error) {
	if limit < 1 {
		limit = DefaultLimit
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", core.ErrInvalidPath, root)
	}

	normalized := make([]string, len(patterns))
	for i, p := range patterns {
		normalized[i] = normalizeGlobPattern(p)
		if !doublestar.ValidatePattern(normalized[i]) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}

	c := &Collection{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImage(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if !matchAny(normalized, filepath.ToSlash(rel)) {
			return nil
		}
		c.Total++
		if len(c.Inputs) < limit {
			c.Inputs = append(c.Inputs, core.InputFromPath(path))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Truncated = c.Total > limit
	return c, nil
}

// IsImage reports whether path has a collected image extension, ignoring case.
func IsImage(path string) bool {
	return slices.Contains(Extensions, strings.ToLower(filepath.Ext(path)))
}

// normalizeGlobPattern makes patterns without path separators recursive by default.
// "*.png" becomes "**/*.png" to match at any depth.
func normalizeGlobPattern(pattern string) string {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "**") {
		return pattern
	}
	return "**/" + pattern
}

func matchAny(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		// Patterns were validated up front.
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
