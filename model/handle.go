package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/core"
	"github.com/poiesic/imgembed/device"
)

// Handle is a loaded model bound to a device.
// Every batch goes through the device, so concurrent callers are serialized.
type Handle struct {
	id     core.ModelID
	entry  *cache.Entry
	model  Model
	device *device.Device

	mu     sync.RWMutex
	closed bool
}

// NewHandle binds m, loaded from entry, to dev.
func NewHandle(id core.ModelID, entry *cache.Entry, m Model, dev *device.Device) *Handle {
	return &Handle{
		id:     id,
		entry:  entry,
		model:  m,
		device: dev,
	}
}

// ID returns the identifier the handle was resolved for.
func (h *Handle) ID() core.ModelID {
	return h.id
}

// Entry returns the cache entry the model was loaded from.
func (h *Handle) Entry() *cache.Entry {
	return h.entry
}

// Source returns where the weights came from ("cache" when no manifest is known).
func (h *Handle) Source() string {
	if h.entry == nil || h.entry.Manifest == nil {
		return "cache"
	}
	return h.entry.Manifest.Source
}

// Dimension returns the embedding length.
func (h *Handle) Dimension() int {
	return h.model.Dimension()
}

// Device returns the device the handle runs on.
func (h *Handle) Device() *device.Device {
	return h.device
}

// EmbedBatch runs one batch on the device.
func (h *Handle) EmbedBatch(ctx context.Context, inputs []core.Input) ([][]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrHandleClosed
	}

	var vectors [][]float32
	err := h.device.Run(ctx, h.model.MemoryFor(len(inputs)), func(ctx context.Context) error {
		var err error
		vectors, err = h.model.EmbedBatch(ctx, inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: %d inputs, %d vectors", ErrVectorCount, len(inputs), len(vectors))
	}
	return vectors, nil
}

// Close releases the model. It waits for a running batch to finish.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.model.Close()
}
