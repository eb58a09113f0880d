//go:build windows

package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

// fileLock is a LockFileEx lock held on a file under .locks/.
type fileLock struct {
	file   *os.File
	locked bool
}

func newFileLock(path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &fileLock{file: file}, nil
}

// lock polls a fail-immediately LockFileEx until it succeeds, ctx ends or timeout expires.
func (l *fileLock) lock(ctx context.Context, timeout time.Duration) error {
	if l.locked {
		return nil
	}

	deadline := time.Now().Add(timeout)
	wait := 10 * time.Millisecond
	for {
		err := windows.LockFileEx(
			windows.Handle(l.file.Fd()),
			windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
			0,
			1, 0,
			&windows.Overlapped{},
		)
		if err == nil {
			l.locked = true
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v", ErrLockTimeout, timeout)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait < 100*time.Millisecond {
			wait *= 2
		}
	}
}

// unlock releases the lock and closes the file. Safe to call more than once.
func (l *fileLock) unlock() error {
	if l.file == nil {
		return nil
	}
	var err error
	if l.locked {
		err = windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, &windows.Overlapped{})
		l.locked = false
	}
	l.file.Close()
	l.file = nil
	return err
}
