//go:build !windows

// lock.go implements the LOCK file on Unix systems with flock(2).
package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
)

// fileLock holds an exclusive flock on the LOCK file.
type fileLock struct {
	f *os.File
}

// lockFile acquires an exclusive lock on the named file. If another process
// or another open DB in this process already holds it, the error wraps
// ErrLocked.
func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, name)
		}
		return nil, err
	}

	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	return l.f.Close()
}
