package vfs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOSFSCreateAndRead(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "test.txt")

	f, err := fs.Create(path)
	require.NoError(t, err)
	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, f.Sync())
	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(5), size)
	require.NoError(t, f.Close())

	r, err := fs.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, "hello", string(data))
}

func TestOSFSOpenAppend(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "log")

	f, err := fs.OpenAppend(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.OpenAppend(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(data))
}

func TestOSFSDirectoryOps(t *testing.T) {
	fs := Default()
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, fs.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y"), nil, 0644))

	names, err := fs.ListDir(dir)
	require.NoError(t, err)
	slices.Sort(names)
	require.Equal(t, []string{"x", "y"}, names)
	require.True(t, fs.Exists(filepath.Join(dir, "x")))
	require.NoError(t, fs.SyncDir(dir))

	require.NoError(t, fs.Remove(filepath.Join(dir, "x")))
	require.False(t, fs.Exists(filepath.Join(dir, "x")))
	require.NoError(t, fs.RemoveAll(dir))
	require.False(t, fs.Exists(dir))
}

func TestLockIsExclusive(t *testing.T) {
	fs := Default()
	path := filepath.Join(t.TempDir(), "LOCK")

	l1, err := fs.Lock(path)
	require.NoError(t, err)

	_, err = fs.Lock(path)
	require.True(t, errors.Is(err, ErrLocked), "got %v", err)

	require.NoError(t, l1.Close())
	l2, err := fs.Lock(path)
	require.NoError(t, err)
	require.NoError(t, l2.Close())
}

func TestFaultInjectionWriteError(t *testing.T) {
	fs := NewFaultInjectionFS(Default())
	dir := t.TempDir()
	path := filepath.Join(dir, "wal")

	f, err := fs.Create(path)
	require.NoError(t, err)

	fs.InjectWriteError(path)
	_, err = f.Write([]byte("data"))
	require.ErrorIs(t, err, ErrInjectedWriteError)
	_, err = fs.Create(path)
	require.ErrorIs(t, err, ErrInjectedWriteError)

	// Other files are unaffected.
	other, err := fs.Create(filepath.Join(dir, "other"))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	fs.ClearErrors()
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFaultInjectionSyncError(t *testing.T) {
	fs := NewFaultInjectionFS(Default())
	f, err := fs.Create(filepath.Join(t.TempDir(), "wal"))
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)

	fs.InjectSyncError()
	require.ErrorIs(t, f.Sync(), ErrInjectedSyncError)
	fs.ClearErrors()
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
}

func TestFaultInjectionReadError(t *testing.T) {
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	fs.InjectReadError("")
	_, err := fs.Open(path)
	require.ErrorIs(t, err, ErrInjectedReadError)
}

func TestDropUnsyncedData(t *testing.T) {
	fs := NewFaultInjectionFS(Default())
	path := filepath.Join(t.TempDir(), "wal")

	f, err := fs.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("synced"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	_, err = f.Write([]byte("-lost"))
	require.NoError(t, err)

	synced, cur, ok := fs.FileState(path)
	require.True(t, ok)
	require.Equal(t, int64(6), synced)
	require.Equal(t, int64(11), cur)

	require.NoError(t, fs.DropUnsyncedData())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "synced", string(data))
}
