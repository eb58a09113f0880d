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

// Package device models an inference accelerator with a fixed memory budget.
//
// A Device admits one batch at a time. Each batch declares the bytes it needs;
// a batch that cannot fit reports core.ErrResourceExhausted, the signal the
// executor uses to shrink its batch size.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/poiesic/imgembed/core"
	"golang.org/x/sync/semaphore"
)

// Device serializes access to an accelerator.
type Device struct {
	name   string
	budget int64
	sem    *semaphore.Weighted
	logger *slog.Logger

	inUse atomic.Int64
	peak  atomic.Int64
	runs  atomic.Int64
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

// New creates a device with budget bytes of memory.
func New(name string, budget int64, opts ...Option) *Device {
	d := &Device{
		name:   name,
		budget: budget,
		sem:    semaphore.NewWeighted(1),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "device", "device", name)
	return d
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Budget returns the memory budget in bytes.
func (d *Device) Budget() int64 {
	return d.budget
}

// InUse returns the bytes held by the running batch, or zero when idle.
func (d *Device) InUse() int64 {
	return d.inUse.Load()
}

// Peak returns the largest allocation admitted so far.
func (d *Device) Peak() int64 {
	return d.peak.Load()
}

// Runs returns how many batches were admitted.
func (d *Device) Runs() int64 {
	return d.runs.Load()
}

// Run waits for exclusive use of the device, reserves need bytes and calls fn.
// The device is released when fn returns, whether it succeeded, failed or panicked.
// A need above the budget fails with core.ErrResourceExhausted without calling fn.
func (d *Device) Run(ctx context.Context, need int64, fn func(ctx context.Context) error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	if need > d.budget {
		d.logger.Debug("allocation refused", "need", need, "budget", d.budget)
		return fmt.Errorf("%w: need %d bytes, %s has %d", core.ErrResourceExhausted, need, d.name, d.budget)
	}

	d.inUse.Store(need)
	defer d.inUse.Store(0)
	d.runs.Add(1)
	for {
		peak := d.peak.Load()
		if need <= peak || d.peak.CompareAndSwap(peak, need) {
			break
		}
	}

	return fn(ctx)
}
