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

package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
)

// Downloader fetches all files of a model concurrently and promotes them into the cache.
type Downloader struct {
	cache  *cache.Cache
	pool   *ants.Pool
	logger *slog.Logger
}

// DownloaderOption is a functional option for configuring a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloaderLogger sets the logger.
func WithDownloaderLogger(logger *slog.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.logger = logger
	}
}

// NewDownloader creates a downloader running at most concurrency file downloads at once.
// Call Release when done.
func NewDownloader(c *cache.Cache, concurrency int, opts ...DownloaderOption) (*Downloader, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	d := &Downloader{
		cache:  c,
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "downloader")
	return d, nil
}

// Download fetches files of id from the client's source and returns the promoted entry.
// On any failure the staging area is discarded and no entry is created.
func (d *Downloader) Download(ctx context.Context, client *Client, id core.ModelID, files []string) (*cache.Entry, error) {
	files = slices.Compact(slices.Sorted(slices.Values(files)))
	if len(files) == 0 {
		return nil, fmt.Errorf("download %s: no files requested", id)
	}

	st, err := d.cache.NewStaging(id)
	if err != nil {
		return nil, err
	}

	d.logger.Info("downloading model", "model", id.String(), "source", client.Name(), "files", len(files))

	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, file := range files {
		wg.Add(1)
		submitErr := d.pool.Submit(func() {
			defer wg.Done()
			if dlCtx.Err() != nil {
				return
			}
			if _, err := client.Fetch(dlCtx, id, file, st); err != nil {
				fail(fmt.Errorf("%s: %w", file, err))
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(submitErr)
			break
		}
	}
	wg.Wait()

	if ctx.Err() != nil {
		st.Discard()
		return nil, ctx.Err()
	}
	if firstErr != nil {
		st.Discard()
		return nil, firstErr
	}
	for _, file := range files {
		if !st.Has(file) {
			st.Discard()
			return nil, fmt.Errorf("download %s: %s missing after fetch", id, file)
		}
	}

	return d.cache.Promote(ctx, st, client.Name())
}

// Release releases the worker pool. The downloader must not be used afterwards.
func (d *Downloader) Release() {
	if d.pool != nil {
		d.pool.Release()
	}
}
