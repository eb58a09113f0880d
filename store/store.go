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

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Store is a BadgerDB-backed vector cache.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithLogger sets a custom logger for the store and the underlying database.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the time source used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger is chatty at info level; its progress lines go to debug.
func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens a store in dir, creating the directory if it doesn't exist.
func Open(dir string, opts ...Option) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		info, err = os.Stat(dir)
		if err != nil {
			return nil, err
		}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return open(badger.DefaultOptions(dir), opts)
}

// OpenMemory opens a store that lives only in memory.
func OpenMemory(opts ...Option) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), opts)
}

func open(bopts badger.Options, opts []Option) (*Store, error) {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "store")
	if s.now == nil {
		s.now = time.Now
	}

	bopts.Logger = &badgerLoggerAdapter{logger: s.logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	s.db = db
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsClosed returns true if the database is closed.
func (s *Store) IsClosed() bool {
	return s.db.IsClosed()
}

// Get returns the vector stored for the model and content key.
func (s *Store) Get(ctx context.Context, model, key string) ([]float32, bool, error) {
	rec, err := s.GetRecord(ctx, model, key)
	if err != nil || rec == nil {
		return nil, false, err
	}
	return rec.Vector, true, nil
}

// GetRecord returns the full record, or nil when none is stored.
func (s *Store) GetRecord(ctx context.Context, model, key string) (*Record, error) {
	if err := s.checkKey(ctx, model, key); err != nil {
		return nil, err
	}

	var rec *Record
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeVectorKey(model, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			rec, err = UnmarshalRecord(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put stores a vector for the model and content key, replacing any previous one.
func (s *Store) Put(ctx context.Context, model, key string, vector []float32) error {
	if err := s.checkKey(ctx, model, key); err != nil {
		return err
	}

	data := MarshalRecord(&Record{
		Model:     model,
		Vector:    vector,
		CreatedAt: s.now().UTC(),
	})
	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(makeVectorKey(model, key), data)
	})
}

// Count returns the number of vectors stored for a model.
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	if err := s.check(ctx, model); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeModelPrefix(model)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Delete removes every vector of a model and returns how many were removed.
func (s *Store) Delete(ctx context.Context, model string) (int, error) {
	count, err := s.Count(ctx, model)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.db.DropPrefix(makeModelPrefix(model)); err != nil {
		return 0, fmt.Errorf("delete vectors of %s: %w", model, err)
	}
	s.logger.Info("deleted vectors", "model", model, "count", count)
	return count, nil
}

// Match is a stored vector similar to a query.
type Match struct {
	Key   string
	Score float32
}

// FindSimilar returns the stored vectors of a model whose cosine similarity to
// vector is at least minSimilarity, best first, at most limit. Vectors are
// unit length, so similarity is the dot product.
func (s *Store) FindSimilar(ctx context.Context, model string, vector []float32, minSimilarity float32, limit int) ([]Match, error) {
	if err := s.check(ctx, model); err != nil {
		return nil, err
	}

	prefix := makeModelPrefix(model)
	var results []Match
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			var rec *Record
			err := item.Value(func(val []byte) error {
				var err error
				rec, err = UnmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(rec.Vector) == 0 {
				continue
			}

			similarity := dotProduct(vector, rec.Vector)
			if similarity >= minSimilarity {
				results = append(results, Match{
					Key:   string(item.Key()[len(prefix):]),
					Score: similarity,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b Match) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func (s *Store) check(ctx context.Context, model string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	if model == "" {
		return ErrInvalidKey
	}
	return nil
}

func (s *Store) checkKey(ctx context.Context, model, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return s.check(ctx, model)
}
