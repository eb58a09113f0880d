//go:build !windows

package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.lock")

	holder, err := newFileLock(path)
	require.NoError(t, err)
	require.NoError(t, holder.lock(context.Background(), time.Second))

	waiter, err := newFileLock(path)
	require.NoError(t, err)
	err = waiter.lock(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = waiter.lock(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, holder.unlock())
	require.NoError(t, holder.unlock(), "unlock is idempotent")
	require.NoError(t, waiter.lock(context.Background(), time.Second))
	require.NoError(t, waiter.unlock())
}
