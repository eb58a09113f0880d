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

package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	maxModelIDLength = 256
	maxSegmentLength = 96

	// MaxPathLength is the longest input path accepted.
	MaxPathLength = 4096
)

// ValidateModelID checks each component of id.
// Components may contain letters, digits, '-', '_' and '.', and must not start with '.'.
func ValidateModelID(id ModelID) error {
	for _, part := range []struct {
		label string
		value string
	}{
		{"namespace", id.Namespace},
		{"name", id.Name},
		{"revision", id.Revision},
	} {
		if err := validateSegment(part.value); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalidModelID, part.label, part.value, err)
		}
	}
	return nil
}

func validateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("empty")
	}
	if len(s) > maxSegmentLength {
		return fmt.Errorf("longer than %d characters", maxSegmentLength)
	}
	if s[0] == '.' {
		return fmt.Errorf("starts with '.'")
	}
	if strings.Contains(s, "--") {
		return fmt.Errorf("contains '--'")
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("invalid character %q", r)
		}
	}
	return nil
}

// ValidatePath rejects empty or overlong paths and relative paths escaping their base.
// Absolute paths are allowed. When prefixes are given, the path must start with one of them.
func ValidatePath(path string, prefixes ...string) error {
	if path == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidPath, MaxPathLength)
	}
	if !filepath.IsAbs(path) {
		cleaned := filepath.Clean(path)
		if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: %q escapes its base directory", ErrInvalidPath, path)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is outside the allowed prefixes", ErrInvalidPath, path)
}
