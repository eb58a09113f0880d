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

package model

import (
	"context"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
)

// Model is a loaded image encoder.
type Model interface {
	// Dimension returns the length of every vector the model produces.
	Dimension() int

	// MemoryFor returns the device bytes needed to embed a batch of n inputs.
	MemoryFor(n int) int64

	// EmbedBatch embeds inputs in one pass and returns one vector per input, in order.
	// A batch containing an unusable input fails as a whole with an error wrapping
	// core.ErrMalformedInput; the caller isolates the culprit.
	// Running out of device memory must be reported as core.ErrResourceExhausted.
	EmbedBatch(ctx context.Context, inputs []core.Input) ([][]float32, error)

	// Close releases model resources.
	Close() error
}

// Loader builds a Model from a complete cache entry.
type Loader interface {
	// RequiredFiles lists the files a cache entry must hold, relative to the model root.
	RequiredFiles() []string

	// Load reads the entry and returns a ready model.
	// Corrupt or unreadable weights are reported as core.ErrModelLoad.
	Load(ctx context.Context, entry *cache.Entry) (Model, error)
}
