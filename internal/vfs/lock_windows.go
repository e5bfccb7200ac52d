//go:build windows

// lock_windows.go implements the LOCK file on Windows with an exclusively
// created marker file.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
)

type fileLock struct {
	f    *os.File
	name string
}

func lockFile(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, name)
		}
		return nil, err
	}
	return &fileLock{f: f, name: name}, nil
}

func (l *fileLock) Close() error {
	err := l.f.Close()
	_ = os.Remove(l.name)
	return err
}
