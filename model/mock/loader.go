package mock

import (
	"context"
	"sync/atomic"

	"github.com/poiesic/imgembed/cache"
	"github.com/poiesic/imgembed/model"
)

// Loader is a test double for model.Loader that hands out a fixed Model.
type Loader struct {
	// Model is returned by Load unless LoadFunc is set.
	Model *Model

	// Files is returned by RequiredFiles.
	Files []string

	// LoadFunc replaces the default behavior of Load when set.
	LoadFunc func(ctx context.Context, entry *cache.Entry) (model.Model, error)

	loads atomic.Int64
}

var _ model.Loader = (*Loader)(nil)

// NewLoader creates a loader for m requiring files.
func NewLoader(m *Model, files ...string) *Loader {
	return &Loader{Model: m, Files: files}
}

func (l *Loader) RequiredFiles() []string {
	return l.Files
}

func (l *Loader) Load(ctx context.Context, entry *cache.Entry) (model.Model, error) {
	l.loads.Add(1)
	if l.LoadFunc != nil {
		return l.LoadFunc(ctx, entry)
	}
	return l.Model, nil
}

// Loads returns how many times Load was called.
func (l *Loader) Loads() int64 {
	return l.loads.Load()
}
