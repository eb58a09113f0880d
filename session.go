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
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/imgembed/config"
	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/device"
	"github.com/poiesic/imgembed/executor"
	"github.com/poiesic/imgembed/model"
	"github.com/poiesic/imgembed/model/linear"
	"github.com/poiesic/imgembed/resolver"
	"github.com/poiesic/imgembed/store"
)

var (
	// ErrSessionClosed is returned by a Session after Close.
	ErrSessionClosed = errors.New("session is closed")

	// ErrNoStore is returned by operations that need a vector store when store_dir is not configured.
	ErrNoStore = errors.New("no vector store configured")
)

// Session owns one resolved model and embeds images with it.
// A Session is safe for concurrent use.
type Session struct {
	cfg      *config.Config
	id       core.ModelID
	resolver *resolver.Resolver
	executor *executor.Executor
	store    *store.Store
	logger   *slog.Logger

	mu     sync.RWMutex
	handle *model.Handle
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	loader       model.Loader
	logger       *slog.Logger
	resolverOpts []resolver.Option
	executorOpts []executor.Option
}

// WithLoader sets the model loader. The default is the linear reference encoder.
func WithLoader(loader model.Loader) SessionOption {
	return func(o *sessionOptions) {
		o.loader = loader
	}
}

// WithLogger sets a custom logger for the session and its components.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// WithResolverOptions passes extra options to the resolver.
func WithResolverOptions(opts ...resolver.Option) SessionOption {
	return func(o *sessionOptions) {
		o.resolverOpts = append(o.resolverOpts, opts...)
	}
}

// WithExecutorOptions passes extra options to the executor.
func WithExecutorOptions(opts ...executor.Option) SessionOption {
	return func(o *sessionOptions) {
		o.executorOpts = append(o.executorOpts, opts...)
	}
}

// Open validates cfg, resolves the configured model and returns a ready session.
// Resolution failures are returned here, before any inference.
func Open(ctx context.Context, cfg *config.Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &sessionOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if options.loader == nil {
		options.loader = linear.NewLoader(
			linear.WithMaxInputBytes(cfg.MaxInputBytes),
			linear.WithLogger(logger),
		)
	}

	id, err := cfg.Model()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	dev := device.New("default", cfg.DeviceMemoryBytes(), device.WithLogger(logger))
	resolverOpts := append([]resolver.Option{
		resolver.WithLogger(logger),
		resolver.WithDevice(dev),
	}, options.resolverOpts...)
	res, err := resolver.New(policy, options.loader, resolverOpts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:      cfg,
		id:       id,
		resolver: res,
		logger:   logger.With("component", "session"),
	}

	executorOpts := []executor.Option{executor.WithLogger(logger)}
	if cfg.StoreDir != "" {
		st, err := store.Open(cfg.StoreDir, store.WithLogger(logger))
		if err != nil {
			res.Close()
			return nil, err
		}
		s.store = st
		executorOpts = append(executorOpts, executor.WithVectorCache(st))
	}
	s.executor = executor.New(append(executorOpts, options.executorOpts...)...)

	h, err := res.Resolve(ctx, id)
	if err != nil {
		s.closeComponents()
		return nil, err
	}
	s.handle = h
	s.logger.Info("model ready", "model", id, "source", h.Source(), "dimension", h.Dimension())
	return s, nil
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Model returns the resolved model identifier.
func (s *Session) Model() core.ModelID {
	return s.id
}

// Handle returns the current model handle.
func (s *Session) Handle() *model.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

// Resolver returns the session's resolver.
func (s *Session) Resolver() *resolver.Resolver {
	return s.resolver
}

// Store returns the vector store, or nil when store_dir is not configured.
func (s *Session) Store() *store.Store {
	return s.store
}

// Embed streams embeddings for inputs using the configured batch size.
func (s *Session) Embed(ctx context.Context, inputs []core.Input) *executor.Stream {
	return s.EmbedBatchSize(ctx, inputs, s.cfg.ClusteringBatchSize)
}

// EmbedBatchSize is like Embed with an explicit maximum batch size.
func (s *Session) EmbedBatchSize(ctx context.Context, inputs []core.Input, maxBatchSize int) *executor.Stream {
	s.mu.RLock()
	h := s.handle
	s.mu.RUnlock()
	return s.executor.Embed(ctx, h, inputs, maxBatchSize)
}

// EmbedAll embeds every input and returns the results in input order.
// Per-input failures are in the results; the error is set only when the run stopped early.
func (s *Session) EmbedAll(ctx context.Context, inputs []core.Input) ([]core.EmbeddingResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.Embed(ctx, inputs).Collect()
}

// FindSimilar embeds query and returns the stored vectors of the session model
// closest to it, best first. The query itself is never among the matches.
func (s *Session) FindSimilar(ctx context.Context, query core.Input, minSimilarity float32, limit int) ([]store.Match, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, ErrNoStore
	}

	key, err := core.InputKey(query)
	if err != nil {
		return nil, &core.InputError{Index: 0, Name: query.Label(), Err: err}
	}
	results, err := s.EmbedAll(ctx, []core.Input{query})
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}

	s.mu.RLock()
	modelName := s.handle.ID().String()
	s.mu.RUnlock()

	searchLimit := limit
	if limit > 0 {
		searchLimit = limit + 1
	}
	matches, err := s.store.FindSimilar(ctx, modelName, results[0].Vector, minSimilarity, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", modelName, err)
	}
	matches = slices.DeleteFunc(matches, func(m store.Match) bool { return m.Key == key })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Reload drops the current handle and resolves the model again.
// Streams still running on the old handle fail with model.ErrHandleClosed.
func (s *Session) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if err := s.resolver.Forget(s.id); err != nil {
		s.logger.Warn("error closing previous handle", "err", err)
	}
	h, err := s.resolver.Resolve(ctx, s.id)
	if err != nil {
		return fmt.Errorf("reload %s: %w", s.id, err)
	}
	s.handle = h
	s.logger.Info("model reloaded", "model", s.id, "source", h.Source())
	return nil
}

// Close releases the model, the resolver and the vector store.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeComponents()
}

func (s *Session) closeComponents() error {
	var errs []error
	if err := s.resolver.Close(); err != nil {
		s.logger.Error("error closing resolver", "err", err)
		errs = append(errs, err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing vector store", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}
