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

package cache

import "errors"

var (
	// ErrIncomplete indicates a model directory without a valid manifest.
	ErrIncomplete = errors.New("cache entry incomplete")

	// ErrIntegrity indicates that a cached file does not match its manifest.
	ErrIntegrity = errors.New("cache entry integrity check failed")

	// ErrLockTimeout indicates that the promotion lock could not be acquired in time.
	ErrLockTimeout = errors.New("cache lock timeout")

	// ErrInvalidFileName indicates a model file name that escapes its directory.
	ErrInvalidFileName = errors.New("invalid model file name")

	// ErrEmptyStaging indicates a promotion attempt with no files.
	ErrEmptyStaging = errors.New("staging directory has no files")

	// ErrStagingClosed indicates use of a staging area after promotion or discard.
	ErrStagingClosed = errors.New("staging area closed")
)
