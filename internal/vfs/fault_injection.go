// fault_injection.go implements FaultInjectionFS.
//
// FaultInjectionFS wraps a real filesystem and allows injecting errors and
// simulating crashes for testing durability and recovery.
package vfs

import (
	"errors"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrInjectedReadError is returned when a read error is injected.
	ErrInjectedReadError = errors.New("vfs: injected read error")

	// ErrInjectedWriteError is returned when a write error is injected.
	ErrInjectedWriteError = errors.New("vfs: injected write error")

	// ErrInjectedSyncError is returned when a sync error is injected.
	ErrInjectedSyncError = errors.New("vfs: injected sync error")
)

// FaultInjectionFS wraps an FS and allows injecting errors.
// It tracks the synced length of each written file so that DropUnsyncedData
// can truncate files back to what a crash would have left behind.
type FaultInjectionFS struct {
	base FS

	mu sync.RWMutex

	fileState map[string]*fileState

	injectReadError  bool
	injectWriteError bool
	injectSyncError  bool
	readErrorPath    string
	writeErrorPath   string
}

type fileState struct {
	pos       int64
	syncedPos int64
}

// NewFaultInjectionFS creates a new fault-injecting filesystem wrapper.
func NewFaultInjectionFS(base FS) *FaultInjectionFS {
	return &FaultInjectionFS{
		base:      base,
		fileState: make(map[string]*fileState),
	}
}

// InjectReadError makes opens of path fail. An empty path matches every file.
func (fs *FaultInjectionFS) InjectReadError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = true
	fs.readErrorPath = abs(path)
}

// InjectWriteError makes creates and writes to path fail. An empty path
// matches every file.
func (fs *FaultInjectionFS) InjectWriteError(path string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectWriteError = true
	fs.writeErrorPath = abs(path)
}

// InjectSyncError makes every file sync fail.
func (fs *FaultInjectionFS) InjectSyncError() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectSyncError = true
}

// ClearErrors clears all error injection.
func (fs *FaultInjectionFS) ClearErrors() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.injectReadError = false
	fs.injectWriteError = false
	fs.injectSyncError = false
	fs.readErrorPath = ""
	fs.writeErrorPath = ""
}

// DropUnsyncedData simulates a crash by truncating every tracked file to
// its last synced length.
func (fs *FaultInjectionFS) DropUnsyncedData() error {
	fs.mu.Lock()
	states := maps.Clone(fs.fileState)
	fs.mu.Unlock()

	for path, state := range states {
		if state.syncedPos >= state.pos {
			continue
		}
		if err := os.Truncate(path, state.syncedPos); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fs.mu.Lock()
		if s, ok := fs.fileState[path]; ok {
			s.pos = s.syncedPos
		}
		fs.mu.Unlock()
	}
	return nil
}

// FileState returns the tracked synced and current length of a file.
func (fs *FaultInjectionFS) FileState(path string) (syncedPos, currentPos int64, ok bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	state, exists := fs.fileState[abs(path)]
	if !exists {
		return 0, 0, false
	}
	return state.syncedPos, state.pos, true
}

func (fs *FaultInjectionFS) writeBlocked(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.injectWriteError && (fs.writeErrorPath == "" || fs.writeErrorPath == path)
}

func (fs *FaultInjectionFS) readBlocked(path string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.injectReadError && (fs.readErrorPath == "" || fs.readErrorPath == path)
}

// Create creates a new writable file with fault injection.
func (fs *FaultInjectionFS) Create(name string) (WritableFile, error) {
	path := abs(name)
	if fs.writeBlocked(path) {
		return nil, ErrInjectedWriteError
	}
	baseFile, err := fs.base.Create(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.fileState[path] = &fileState{}
	fs.mu.Unlock()

	return &faultWritableFile{base: baseFile, fs: fs, path: path}, nil
}

// OpenAppend opens a file for appending. Its existing content counts as synced.
func (fs *FaultInjectionFS) OpenAppend(name string) (WritableFile, error) {
	path := abs(name)
	if fs.writeBlocked(path) {
		return nil, ErrInjectedWriteError
	}
	baseFile, err := fs.base.OpenAppend(name)
	if err != nil {
		return nil, err
	}
	size, _ := baseFile.Size()

	fs.mu.Lock()
	fs.fileState[path] = &fileState{pos: size, syncedPos: size}
	fs.mu.Unlock()

	return &faultWritableFile{base: baseFile, fs: fs, path: path}, nil
}

// Open opens an existing file for sequential reading.
func (fs *FaultInjectionFS) Open(name string) (SequentialFile, error) {
	if fs.readBlocked(abs(name)) {
		return nil, ErrInjectedReadError
	}
	return fs.base.Open(name)
}

// Remove deletes a file.
func (fs *FaultInjectionFS) Remove(name string) error {
	if err := fs.base.Remove(name); err != nil {
		return err
	}
	fs.mu.Lock()
	delete(fs.fileState, abs(name))
	fs.mu.Unlock()
	return nil
}

// RemoveAll removes a directory and all its contents.
func (fs *FaultInjectionFS) RemoveAll(path string) error {
	return fs.base.RemoveAll(path)
}

// MkdirAll creates a directory and all parent directories.
func (fs *FaultInjectionFS) MkdirAll(path string, perm os.FileMode) error {
	return fs.base.MkdirAll(path, perm)
}

// Exists returns true if the file exists.
func (fs *FaultInjectionFS) Exists(name string) bool {
	return fs.base.Exists(name)
}

// ListDir lists files in a directory.
func (fs *FaultInjectionFS) ListDir(path string) ([]string, error) {
	return fs.base.ListDir(path)
}

// Lock acquires an exclusive lock on a file.
func (fs *FaultInjectionFS) Lock(name string) (io.Closer, error) {
	return fs.base.Lock(name)
}

// SyncDir syncs a directory.
func (fs *FaultInjectionFS) SyncDir(path string) error {
	return fs.base.SyncDir(path)
}

// faultWritableFile wraps WritableFile with fault injection.
type faultWritableFile struct {
	base WritableFile
	fs   *FaultInjectionFS
	path string
}

func (f *faultWritableFile) Write(p []byte) (int, error) {
	if f.fs.writeBlocked(f.path) {
		return 0, ErrInjectedWriteError
	}
	n, err := f.base.Write(p)

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.pos += int64(n)
	}
	f.fs.mu.Unlock()

	return n, err
}

func (f *faultWritableFile) Close() error {
	return f.base.Close()
}

func (f *faultWritableFile) Sync() error {
	f.fs.mu.RLock()
	inject := f.fs.injectSyncError
	f.fs.mu.RUnlock()
	if inject {
		return ErrInjectedSyncError
	}

	if err := f.base.Sync(); err != nil {
		return err
	}

	f.fs.mu.Lock()
	if state, ok := f.fs.fileState[f.path]; ok {
		state.syncedPos = state.pos
	}
	f.fs.mu.Unlock()
	return nil
}

func (f *faultWritableFile) Size() (int64, error) {
	return f.base.Size()
}

func abs(path string) string {
	if path == "" {
		return ""
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return p
}
