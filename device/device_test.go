package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/imgembed/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_WithinBudget(t *testing.T) {
	d := New("cpu", 100)

	called := false
	err := d.Run(context.Background(), 60, func(ctx context.Context) error {
		called = true
		assert.Equal(t, int64(60), d.InUse())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Zero(t, d.InUse())
	assert.Equal(t, int64(60), d.Peak())
	assert.Equal(t, int64(1), d.Runs())
}

func TestRun_OverBudget(t *testing.T) {
	d := New("cpu", 100)

	err := d.Run(context.Background(), 101, func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
	assert.Zero(t, d.Runs())

	// The device is free again.
	require.NoError(t, d.Run(context.Background(), 1, func(context.Context) error { return nil }))
}

func TestRun_ReleasesOnErrorAndPanic(t *testing.T) {
	d := New("cpu", 100)
	boom := errors.New("boom")

	err := d.Run(context.Background(), 10, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		d.Run(context.Background(), 10, func(context.Context) error { panic("kernel fault") })
	})
	assert.Zero(t, d.InUse())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx, 10, func(context.Context) error { return nil }), "device was released")
}

func TestRun_Serializes(t *testing.T) {
	d := New("cpu", 100)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Run(context.Background(), 50, func(context.Context) error {
				n := active.Add(1)
				if n > maxActive.Load() {
					maxActive.Store(n)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int64(8), d.Runs())
}

func TestRun_ContextCanceledWhileWaiting(t *testing.T) {
	d := New("cpu", 100)

	hold := make(chan struct{})
	started := make(chan struct{})
	go d.Run(context.Background(), 10, func(context.Context) error {
		close(started)
		<-hold
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Run(ctx, 10, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(hold)
}
