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

package imgembed

import (
	"context"
	"errors"

	"github.com/poiesic/imgembed/core"
	"github.com/tmc/langchaingo/embeddings"
)

// imageClient implements embeddings.EmbedderClient over a session.
// The "texts" it receives are image paths.
type imageClient struct {
	session *Session
}

var _ embeddings.EmbedderClient = (*imageClient)(nil)

// CreateEmbedding embeds the images at paths. Any per-image failure fails the call,
// since langchaingo callers expect one vector per document.
func (c *imageClient) CreateEmbedding(ctx context.Context, paths []string) ([][]float32, error) {
	inputs := make([]core.Input, len(paths))
	for i, p := range paths {
		inputs[i] = core.InputFromPath(p)
	}

	results, err := c.session.EmbedAll(ctx, inputs)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(results))
	var errs []error
	for i, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		vectors[i] = res.Vector
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return vectors, nil
}

// NewLangchainEmbedder exposes the session as a langchaingo embeddings.Embedder.
// Documents and queries are image file paths, so image vectors can be stored in
// any langchaingo vector store.
func NewLangchainEmbedder(s *Session) (embeddings.Embedder, error) {
	return embeddings.NewEmbedder(&imageClient{session: s},
		embeddings.WithBatchSize(s.cfg.ClusteringBatchSize),
		embeddings.WithStripNewLines(false),
	)
}
