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
	"errors"
	"fmt"
	"strings"
)

// Resolution and inference errors.
var (
	// ErrInvalidModelID indicates a malformed model identifier.
	ErrInvalidModelID = errors.New("invalid model identifier")

	// ErrInvalidPath indicates a path failed safety validation.
	ErrInvalidPath = errors.New("invalid path")

	// ErrCacheMiss indicates no complete cache entry exists for a model.
	ErrCacheMiss = errors.New("model not in cache")

	// ErrModelNotCached indicates offline mode is on and the model is not cached locally.
	ErrModelNotCached = errors.New("model not cached and offline mode is enabled")

	// ErrNetworkFailure indicates a transient network failure. Retried within a source.
	ErrNetworkFailure = errors.New("network failure")

	// ErrPermanentFetch indicates the host answered but will not serve the file (404, 401, 403).
	ErrPermanentFetch = errors.New("file not available from source")

	// ErrModelLoad indicates cached files exist but could not be loaded.
	ErrModelLoad = errors.New("model load failed")

	// ErrResourceExhausted indicates the device ran out of memory for one batch.
	ErrResourceExhausted = errors.New("device resources exhausted")

	// ErrInsufficientResources indicates a batch of one input still exhausts the device.
	ErrInsufficientResources = errors.New("insufficient device resources for a single input")

	// ErrMalformedInput indicates a single input could not be decoded or is out of bounds.
	ErrMalformedInput = errors.New("malformed input")
)

// SourceFailure records why one resolution strategy failed.
type SourceFailure struct {
	Source string
	Err    error
}

// ResolutionError is returned when every attempted source failed.
// Failures are kept in the order the sources were tried.
type ResolutionError struct {
	ID       ModelID
	Failures []SourceFailure
}

func (e *ResolutionError) Error() string {
	names := make([]string, len(e.Failures))
	reasons := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Source
		reasons[i] = fmt.Sprintf("%s: %v", f.Source, f.Err)
	}
	return fmt.Sprintf("resolve %s: tried %s - all failed: %s",
		e.ID, strings.Join(names, ", "), strings.Join(reasons, "; "))
}

// Unwrap exposes every per-source failure to errors.Is and errors.As.
func (e *ResolutionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// InputError reports a failure isolated to one input.
type InputError struct {
	Index int
	Name  string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}
