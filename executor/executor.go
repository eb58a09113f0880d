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

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/model"
)

// Target is the model the executor runs batches on. *model.Handle implements it.
type Target interface {
	ID() core.ModelID
	EmbedBatch(ctx context.Context, inputs []core.Input) ([][]float32, error)
}

// VectorCache stores vectors computed earlier, keyed by model and input content.
type VectorCache interface {
	Get(ctx context.Context, model, key string) ([]float32, bool, error)
	Put(ctx context.Context, model, key string, vector []float32) error
}

// Executor runs embedding streams. It holds no per-stream state and may be shared.
type Executor struct {
	logger           *slog.Logger
	metrics          *Metrics
	cache            VectorCache
	progressWriter   io.Writer
	progressInterval int
}

// Option is a functional option for configuring an Executor.
type Option func(*Executor)

// WithLogger sets a custom logger for the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithVectorCache serves known vectors from cache and stores new ones.
func WithVectorCache(c VectorCache) Option {
	return func(e *Executor) {
		e.cache = c
	}
}

// WithProgress reports progress to w every interval results.
func WithProgress(w io.Writer, interval int) Option {
	return func(e *Executor) {
		e.progressWriter = w
		e.progressInterval = interval
	}
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "executor")
	if e.metrics == nil {
		e.metrics = NewMetrics(e.logger)
	}
	return e
}

// Embed returns a stream over the embeddings of inputs. No work happens until
// the first call to Next. The stream is finite and cannot be restarted.
func (e *Executor) Embed(ctx context.Context, target Target, inputs []core.Input, maxBatchSize int) *Stream {
	s := &Stream{
		ex:        e,
		ctx:       ctx,
		target:    target,
		inputs:    inputs,
		batchSize: maxBatchSize,
	}
	if maxBatchSize < 1 {
		s.err = fmt.Errorf("%w: got %d", ErrInvalidBatchSize, maxBatchSize)
		s.done = true
		return s
	}
	s.modelName = target.ID().String()
	if e.progressWriter != nil {
		s.progress = NewProgressTracker(e.progressWriter, len(inputs), e.progressInterval)
	}
	return s
}

// Stream yields one core.EmbeddingResult per input, in input order.
// A Stream is not safe for concurrent use.
type Stream struct {
	ex        *Executor
	ctx       context.Context
	target    Target
	inputs    []core.Input
	modelName string
	progress  *ProgressTracker

	// batchSize only ever shrinks.
	batchSize int

	// next is the index of the first input not yet planned into a chunk.
	next    int
	pending []core.EmbeddingResult
	current core.EmbeddingResult
	err     error
	started bool
	done    bool
}

// Next advances to the next result. It returns false when every input has a
// result or the stream failed; check Err afterwards.
func (s *Stream) Next() bool {
	if !s.started {
		s.started = true
		if s.progress != nil {
			s.progress.Start()
		}
	}
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		if s.next >= len(s.inputs) {
			s.finish(nil)
			return false
		}
		if err := s.ctx.Err(); err != nil {
			s.finish(err)
			return false
		}
		results, err := s.runChunk()
		if err != nil {
			s.finish(err)
			return false
		}
		s.pending = results
	}

	s.current = s.pending[0]
	s.pending = s.pending[1:]
	if s.progress != nil {
		s.progress.Increment(s.current.Err != nil)
	}
	return true
}

// Result returns the result Next advanced to.
func (s *Stream) Result() core.EmbeddingResult {
	return s.current
}

// Err returns the error that ended the stream early, if any.
// Per-input failures are reported in results, not here.
func (s *Stream) Err() error {
	return s.err
}

// BatchSize returns the current batch size.
func (s *Stream) BatchSize() int {
	return s.batchSize
}

// All iterates over the remaining results. If the stream fails, the last pair
// carries the error and a zero result.
func (s *Stream) All() iter.Seq2[core.EmbeddingResult, error] {
	return func(yield func(core.EmbeddingResult, error) bool) {
		for s.Next() {
			if !yield(s.Result(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(core.EmbeddingResult{}, err)
		}
	}
}

// Collect drains the stream into a slice.
func (s *Stream) Collect() ([]core.EmbeddingResult, error) {
	results := make([]core.EmbeddingResult, 0, len(s.inputs)-s.next+len(s.pending))
	for s.Next() {
		results = append(results, s.Result())
	}
	return results, s.Err()
}

func (s *Stream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	if s.progress != nil {
		s.progress.Finish()
	}
	if err != nil {
		s.ex.logger.Error("embedding stream failed",
			"model", s.modelName, "completed", s.next, "total", len(s.inputs), "error", err)
	}
}

// runChunk plans the next chunk and returns its results. On device exhaustion
// it shrinks the batch size and returns no results without advancing, so the
// same inputs are planned again in smaller pieces.
func (s *Stream) runChunk() ([]core.EmbeddingResult, error) {
	start := s.next
	end := min(start+s.batchSize, len(s.inputs))
	chunk := s.inputs[start:end]

	results := make([]core.EmbeddingResult, len(chunk))
	keys := make([]string, len(chunk))
	var misses []int
	for i, in := range chunk {
		results[i] = core.EmbeddingResult{Index: start + i, Name: in.Label()}
		if s.ex.cache == nil {
			misses = append(misses, i)
			continue
		}
		vec, key, ok := s.lookup(in)
		keys[i] = key
		if ok {
			results[i].Vector = vec
			results[i].Cached = true
			continue
		}
		misses = append(misses, i)
	}
	s.ex.metrics.RecordCacheHits(s.ctx, s.modelName, len(chunk)-len(misses))

	if len(misses) > 0 {
		batch := make([]core.Input, len(misses))
		for j, i := range misses {
			batch[j] = chunk[i]
		}

		vectors, err := s.embed(batch)
		switch {
		case err == nil:
			for j, i := range misses {
				results[i].Vector = vectors[j]
				s.store(chunk[i], keys[i], vectors[j])
			}
		case errors.Is(err, core.ErrResourceExhausted):
			if err := s.shrink(len(batch), err); err != nil {
				return nil, err
			}
			return nil, nil
		case isFatal(err):
			return nil, err
		default:
			s.ex.logger.Warn("batch failed, isolating inputs",
				"model", s.modelName, "start", start, "size", len(batch), "error", err)
			for _, i := range misses {
				vec, err := s.embedOne(chunk[i], start+i)
				if err != nil {
					var inputErr *core.InputError
					if !errors.As(err, &inputErr) {
						return nil, err
					}
					results[i].Err = inputErr
					continue
				}
				results[i].Vector = vec
				s.store(chunk[i], keys[i], vec)
			}
		}
	}

	s.next = end
	return results, nil
}

// embedOne runs a single input. Input-specific failures come back as *core.InputError.
func (s *Stream) embedOne(in core.Input, index int) ([]float32, error) {
	vectors, err := s.embed([]core.Input{in})
	if err == nil {
		return vectors[0], nil
	}
	if errors.Is(err, core.ErrResourceExhausted) {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrInsufficientResources, in.Label(), err)
	}
	if isFatal(err) {
		return nil, err
	}
	s.ex.metrics.RecordInputError(s.ctx, s.modelName)
	s.ex.logger.Debug("input failed", "model", s.modelName, "index", index, "input", in.Label(), "error", err)
	return nil, &core.InputError{Index: index, Name: in.Label(), Err: err}
}

func (s *Stream) embed(batch []core.Input) ([][]float32, error) {
	start := time.Now()
	vectors, err := s.target.EmbedBatch(s.ctx, batch)
	if err == nil && len(vectors) != len(batch) {
		err = fmt.Errorf("%w: %d inputs, %d vectors", model.ErrVectorCount, len(batch), len(vectors))
	}
	s.ex.metrics.RecordBatch(s.ctx, s.modelName, time.Since(start), len(batch), err)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// shrink halves the batch size after a chunk of size failed with cause.
func (s *Stream) shrink(size int, cause error) error {
	next := size / 2
	if next < 1 {
		return fmt.Errorf("%w: %w", core.ErrInsufficientResources, cause)
	}
	s.ex.logger.Warn("device exhausted, shrinking batch",
		"model", s.modelName, "from", size, "to", next)
	s.ex.metrics.RecordShrink(s.ctx, s.modelName)
	s.batchSize = next
	return nil
}

func (s *Stream) lookup(in core.Input) ([]float32, string, bool) {
	key, err := core.InputKey(in)
	if err != nil {
		// Unreadable input. Inference will report it.
		return nil, "", false
	}
	vec, ok, err := s.ex.cache.Get(s.ctx, s.modelName, key)
	if err != nil {
		s.ex.logger.Warn("vector cache read failed", "input", in.Label(), "error", err)
		return nil, key, false
	}
	return vec, key, ok
}

func (s *Stream) store(in core.Input, key string, vec []float32) {
	if s.ex.cache == nil || key == "" {
		return
	}
	if err := s.ex.cache.Put(s.ctx, s.modelName, key, vec); err != nil {
		s.ex.logger.Warn("vector cache write failed", "input", in.Label(), "error", err)
	}
}

// isFatal reports errors that no smaller batch can fix.
func isFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, model.ErrHandleClosed) ||
		errors.Is(err, core.ErrInsufficientResources)
}
