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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/device"
	"github.com/poiesic/imgembed/fetch"
	"github.com/poiesic/imgembed/model"
	"golang.org/x/sync/singleflight"
)

// DefaultDeviceBudget is the device memory used when no device is supplied.
const DefaultDeviceBudget = 1 << 30

// Resolver resolves model identifiers under a fixed policy.
// A Resolver is safe for concurrent use.
type Resolver struct {
	policy     core.Policy
	loader     model.Loader
	cache      *cache.Cache
	downloader *fetch.Downloader
	device     *device.Device
	chain      []Strategy
	logger     *slog.Logger
	metrics    *Metrics

	clientOpts []fetch.Option
	custom     []Strategy

	group singleflight.Group

	mu      sync.Mutex
	handles map[string]*model.Handle
	flights map[string]*flight
	closed  bool
}

// flight is the context of one shared resolution. It is cancelled once every
// caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Option is a functional option for configuring a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithDevice binds loaded models to dev.
func WithDevice(dev *device.Device) Option {
	return func(r *Resolver) {
		r.device = dev
	}
}

// WithClientOptions adds options to every fetch client, after the policy's own.
func WithClientOptions(opts ...fetch.Option) Option {
	return func(r *Resolver) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// WithStrategies replaces the chain derived from the policy.
func WithStrategies(chain ...Strategy) Option {
	return func(r *Resolver) {
		r.custom = chain
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// New creates a resolver for policy that loads models with loader.
// Call Close when done.
func New(policy core.Policy, loader model.Loader, opts ...Option) (*Resolver, error) {
	if loader == nil {
		return nil, errors.New("resolver: loader is required")
	}
	r := &Resolver{
		policy:  policy,
		loader:  loader,
		logger:  slog.Default(),
		handles: make(map[string]*model.Handle),
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resolver")
	if r.metrics == nil {
		r.metrics = NewMetrics(r.logger)
	}
	if r.device == nil {
		r.device = device.New("default", DefaultDeviceBudget, device.WithLogger(r.logger))
	}

	c, err := cache.New(policy.CacheDir, cache.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.cache = c

	d, err := fetch.NewDownloader(c, policy.DownloadConcurrency, fetch.WithDownloaderLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.downloader = d

	if r.custom != nil {
		r.chain = r.custom
	} else {
		clientOpts := append([]fetch.Option{fetch.WithLogger(r.logger)}, r.clientOpts...)
		chain, err := Chain(policy, c, d, loader.RequiredFiles(), clientOpts...)
		if err != nil {
			d.Release()
			return nil, err
		}
		r.chain = chain
	}

	r.logger.Debug("resolver ready", "chain", Names(r.chain), "cache_dir", policy.CacheDir, "offline", policy.Offline)
	return r, nil
}

// Policy returns the policy the resolver was built with.
func (r *Resolver) Policy() core.Policy {
	return r.policy
}

// Cache returns the model cache.
func (r *Resolver) Cache() *cache.Cache {
	return r.cache
}

// Device returns the device models are bound to.
func (r *Resolver) Device() *device.Device {
	return r.device
}

// Strategies returns the names of the resolution chain, in order.
func (r *Resolver) Strategies() []string {
	return Names(r.chain)
}

// Resolve returns a ready handle for id.
//
// Concurrent calls for the same identifier share one resolution. The shared
// work does not inherit any single caller's cancellation; a caller whose ctx
// ends stops waiting, and the work is cancelled once no caller is left.
func (r *Resolver) Resolve(ctx context.Context, id core.ModelID) (*model.Handle, error) {
	key := id.String()
	for {
		if h, err := r.memoized(key); h != nil || err != nil {
			return h, err
		}
		h, err := r.await(ctx, key, id)
		// A flight abandoned by its callers may still be draining when a new
		// caller joins it; start over rather than report its cancellation.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			r.group.Forget(key)
			continue
		}
		return h, err
	}
}

func (r *Resolver) await(ctx context.Context, key string, id core.ModelID) (*model.Handle, error) {
	f := r.join(ctx, key)
	defer r.leave(key, f)

	ch := r.group.DoChan(key, func() (any, error) {
		if h, err := r.memoized(key); h != nil || err != nil {
			return h, err
		}
		h, err := r.resolve(f.ctx, id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			h.Close()
			return nil, ErrClosed
		}
		r.handles[key] = h
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Handle), nil
	}
}

func (r *Resolver) join(ctx context.Context, key string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

func (r *Resolver) leave(key string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if r.flights[key] == f {
		delete(r.flights, key)
	}
}

// Forget drops and closes the memoized handle for id so the next Resolve loads afresh.
func (r *Resolver) Forget(id core.ModelID) error {
	r.mu.Lock()
	h, ok := r.handles[id.String()]
	delete(r.handles, id.String())
	r.mu.Unlock()
	r.group.Forget(id.String())
	if !ok {
		return nil
	}
	return h.Close()
}

// Close closes every memoized handle and releases download workers.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := r.handles
	r.handles = make(map[string]*model.Handle)
	for _, f := range r.flights {
		f.cancel()
	}
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		errs = append(errs, h.Close())
	}
	r.downloader.Release()
	return errors.Join(errs...)
}

func (r *Resolver) memoized(key string) (*model.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.handles[key], nil
}

// resolve runs the chain and loads the entry. A load failure evicts the entry
// and runs the chain once more; a second failure is returned.
func (r *Resolver) resolve(ctx context.Context, id core.ModelID) (*model.Handle, error) {
	start := time.Now()
	entry, err := r.runChain(ctx, id)
	if err != nil {
		return nil, err
	}

	h, loadErr := r.load(ctx, id, entry)
	if loadErr == nil {
		r.logger.Info("model resolved", "model", id.String(), "source", h.Source(), "duration", time.Since(start))
		return h, nil
	}
	if !errors.Is(loadErr, core.ErrModelLoad) {
		return nil, loadErr
	}

	r.logger.Warn("cached model failed to load, evicting", "model", id.String(), "dir", entry.Dir, "error", loadErr)
	if err := r.cache.Evict(ctx, id); err != nil {
		return nil, errors.Join(loadErr, fmt.Errorf("evict: %w", err))
	}
	r.metrics.RecordEviction(ctx, id.String())

	entry, err = r.runChain(ctx, id)
	if err != nil {
		return nil, errors.Join(loadErr, err)
	}
	h, err = r.load(ctx, id, entry)
	if err != nil {
		return nil, err
	}
	r.logger.Info("model resolved after eviction", "model", id.String(), "source", h.Source(), "duration", time.Since(start))
	return h, nil
}

func (r *Resolver) runChain(ctx context.Context, id core.ModelID) (*cache.Entry, error) {
	var failures []core.SourceFailure
	for _, s := range r.chain {
		attemptStart := time.Now()
		entry, err := s.Resolve(ctx, id)
		r.metrics.RecordAttempt(ctx, s.Name(), time.Since(attemptStart), err)
		if err == nil {
			r.logger.Debug("strategy succeeded", "model", id.String(), "strategy", s.Name())
			return entry, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var halt *haltError
		if errors.As(err, &halt) {
			r.logger.Info("resolution stopped", "model", id.String(), "strategy", s.Name(), "error", halt.err)
			return nil, halt.err
		}
		r.logger.Debug("strategy failed", "model", id.String(), "strategy", s.Name(), "error", err)
		failures = append(failures, core.SourceFailure{Source: s.Name(), Err: err})
	}
	return nil, &core.ResolutionError{ID: id, Failures: failures}
}

func (r *Resolver) load(ctx context.Context, id core.ModelID, entry *cache.Entry) (*model.Handle, error) {
	m, err := r.loader.Load(ctx, entry)
	if err != nil {
		return nil, err
	}
	return model.NewHandle(id, entry, m, r.device), nil
}
