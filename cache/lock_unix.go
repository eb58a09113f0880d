//go:build !windows

package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// fileLock is an advisory flock held on a file under .locks/.
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

// lock polls a non-blocking flock until it succeeds, ctx ends or timeout expires.
func (l *fileLock) lock(ctx context.Context, timeout time.Duration) error {
	if l.locked {
		return nil
	}

	deadline := time.Now().Add(timeout)
	wait := 10 * time.Millisecond
	for {
		err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.locked = true
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			return fmt.Errorf("flock: %w", err)
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
		err = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		l.locked = false
	}
	l.file.Close()
	l.file = nil
	return err
}
