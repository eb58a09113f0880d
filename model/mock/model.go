package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/model"
)

// Model is a test double for model.Model.
// It allows custom behavior injection via function fields.
type Model struct {
	// Dim is the vector length.
	Dim int

	// WeightBytes and BytesPerInput define MemoryFor: WeightBytes + n*BytesPerInput.
	WeightBytes   int64
	BytesPerInput int64

	// BatchFunc replaces the default behavior of EmbedBatch when set.
	BatchFunc func(ctx context.Context, inputs []core.Input) ([][]float32, error)

	// InputFunc is checked for every input of a batch by the default behavior;
	// any error fails the whole batch, the way a real encoder fails on a bad image.
	InputFunc func(in core.Input) error

	mu         sync.Mutex
	batchSizes []int
	closed     bool
}

var _ model.Model = (*Model)(nil)

// NewModel creates a mock producing dim-length vectors with one byte per input.
func NewModel(dim int) *Model {
	return &Model{Dim: dim, BytesPerInput: 1}
}

func (m *Model) Dimension() int {
	return m.Dim
}

func (m *Model) MemoryFor(n int) int64 {
	return m.WeightBytes + int64(n)*m.BytesPerInput
}

// EmbedBatch records the batch size and returns deterministic unit vectors.
func (m *Model) EmbedBatch(ctx context.Context, inputs []core.Input) ([][]float32, error) {
	m.mu.Lock()
	m.batchSizes = append(m.batchSizes, len(inputs))
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.BatchFunc != nil {
		return m.BatchFunc(ctx, inputs)
	}

	vectors := make([][]float32, len(inputs))
	for i, in := range inputs {
		if m.InputFunc != nil {
			if err := m.InputFunc(in); err != nil {
				return nil, fmt.Errorf("input %s: %w", in.Label(), err)
			}
		}
		key, err := core.InputKey(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrMalformedInput, in.Label(), err)
		}
		vectors[i] = Vector(key, m.Dim)
	}
	return vectors, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// BatchSizes returns the size of every batch EmbedBatch received, in order.
func (m *Model) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

// Reset clears recorded batches and injected behavior.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchSizes = nil
	m.BatchFunc = nil
	m.InputFunc = nil
}

// Vector creates a deterministic unit vector from text.
// It uses FNV hash so the same text always produces the same vector.
func Vector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 + 0.001
	}
	return model.NormalizeVector(vector)
}
