package rockyardtxn

// recovery_test.go implements tests for WAL recovery.

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/vfs"
)

func reopen(t *testing.T, dir string, opts *Options) *DB {
	t.Helper()
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard
	}
	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	return db
}

func TestRecoveryReopen(t *testing.T) {
	opts := DefaultOptions()
	opts.MergeOperator = &UInt64AddOperator{}
	db, cleanup := createTestDB(t, opts)
	defer cleanup()
	dir := db.Name()

	users, err := db.CreateColumnFamily(nil, "users")
	if err != nil {
		t.Fatalf("CreateColumnFamily failed: %v", err)
	}
	tmp, err := db.CreateColumnFamily(nil, "tmp")
	if err != nil {
		t.Fatalf("CreateColumnFamily failed: %v", err)
	}
	for i := range 20 {
		mustPut(t, db, fmt.Sprintf("k%02d", i), fmt.Sprintf("v%02d", i))
	}
	if err := db.Delete(nil, nil, []byte("k05")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := db.Put(nil, users, []byte("alice"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	for range 3 {
		if err := db.Merge(nil, nil, []byte("n"), EncodeUint64(2)); err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
	}
	if err := db.DropColumnFamily(tmp); err != nil {
		t.Fatalf("DropColumnFamily failed: %v", err)
	}

	txn := db.BeginTransaction(nil, nil)
	_ = txn.Put(users, []byte("bob"), []byte("2"))
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	txn.Close()

	seq := db.LatestSequenceNumber()
	db.Close()

	db = reopen(t, dir, opts)
	defer db.Close()

	if got := db.LatestSequenceNumber(); got != seq {
		t.Fatalf("LatestSequenceNumber = %d after reopen, want %d", got, seq)
	}
	expectValue(t, db, nil, "k00", "v00")
	expectValue(t, db, nil, "k19", "v19")
	expectNotFound(t, db, nil, "k05")

	names := db.ListColumnFamilies()
	if fmt.Sprint(names) != "[default users]" {
		t.Fatalf("ListColumnFamilies = %v", names)
	}
	users, err = db.GetColumnFamily("users")
	if err != nil {
		t.Fatalf("GetColumnFamily failed: %v", err)
	}
	for k, want := range map[string]string{"alice": "1", "bob": "2"} {
		v, err := db.Get(nil, users, []byte(k))
		if err != nil || string(v) != want {
			t.Fatalf("Get(users, %s) = %q, %v", k, v, err)
		}
	}
	v, err := db.Get(nil, nil, []byte("n"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n, _ := DecodeUint64(v); n != 6 {
		t.Fatalf("merged counter = %d after reopen, want 6", n)
	}

	// Writes continue past the recovered sequence.
	mustPut(t, db, "after", "reopen")
	if db.LatestSequenceNumber() != seq+1 {
		t.Fatalf("LatestSequenceNumber = %d, want %d", db.LatestSequenceNumber(), seq+1)
	}
}

func TestRecoveryWALCompression(t *testing.T) {
	for _, ct := range []CompressionType{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression} {
		t.Run(ct.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.WALCompression = ct
			db, cleanup := createTestDB(t, opts)
			defer cleanup()
			dir := db.Name()

			value := bytes.Repeat([]byte("compressible "), 200)
			for i := range 10 {
				if err := db.Put(nil, nil, []byte(fmt.Sprintf("k%d", i)), value); err != nil {
					t.Fatalf("Put failed: %v", err)
				}
			}
			db.Close()

			db = reopen(t, dir, opts)
			defer db.Close()
			got, err := db.Get(nil, nil, []byte("k7"))
			if err != nil || !bytes.Equal(got, value) {
				t.Fatalf("Get after reopen = %d bytes, %v", len(got), err)
			}
		})
	}
}

func TestRecoveryDisableWAL(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()
	dir := db.Name()

	mustPut(t, db, "logged", "1")
	wo := DefaultWriteOptions()
	wo.DisableWAL = true
	if err := db.Put(wo, nil, []byte("unlogged"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	expectValue(t, db, nil, "unlogged", "1")
	db.Close()

	db = reopen(t, dir, nil)
	defer db.Close()
	expectValue(t, db, nil, "logged", "1")
	expectNotFound(t, db, nil, "unlogged")
}

func onlyLogFile(t *testing.T, dir string) string {
	t.Helper()
	logs, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil || len(logs) == 0 {
		t.Fatalf("no log files in %s: %v", dir, err)
	}
	return logs[len(logs)-1]
}

func TestRecoveryTornTail(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()
	dir := db.Name()

	for i := range 10 {
		mustPut(t, db, fmt.Sprintf("k%d", i), fmt.Sprintf("value-%d", i))
	}
	db.Close()

	logPath := onlyLogFile(t, dir)
	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if err := os.Truncate(logPath, info.Size()-3); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	// A torn tail is not corruption, even with paranoid checks.
	opts := DefaultOptions()
	opts.ParanoidChecks = true
	db = reopen(t, dir, opts)
	defer db.Close()
	expectValue(t, db, nil, "k8", "value-8")
	expectNotFound(t, db, nil, "k9")
}

func corruptLogValue(t *testing.T, dir, value string) {
	t.Helper()
	logPath := onlyLogFile(t, dir)
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	i := bytes.Index(data, []byte(value))
	if i < 0 {
		t.Fatalf("%q not found in %s", value, logPath)
	}
	data[i] ^= 0xff
	if err := os.WriteFile(logPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestRecoveryCorruption(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()
	dir := db.Name()

	for i := range 10 {
		mustPut(t, db, fmt.Sprintf("k%d", i), fmt.Sprintf("value-%d", i))
	}
	db.Close()
	corruptLogValue(t, dir, "value-5")

	paranoid := DefaultOptions()
	paranoid.ParanoidChecks = true
	paranoid.Logger = logging.Discard
	if _, err := Open(dir, paranoid); !errors.Is(err, ErrCorruption) {
		t.Fatalf("paranoid Open = %v, want Corruption", err)
	}

	// Without paranoid checks replay stops at the damage.
	db = reopen(t, dir, nil)
	expectValue(t, db, nil, "k4", "value-4")
	expectNotFound(t, db, nil, "k5")
	expectNotFound(t, db, nil, "k9")
	mustPut(t, db, "new", "write")
	db.Close()

	// The damaged log is gone, so even a paranoid open now succeeds and
	// sees both the salvaged prefix and the later writes.
	db = reopen(t, dir, paranoid)
	defer db.Close()
	expectValue(t, db, nil, "k0", "value-0")
	expectValue(t, db, nil, "k4", "value-4")
	expectNotFound(t, db, nil, "k5")
	expectValue(t, db, nil, "new", "write")
}

func TestRecoveryCorruptionDropsLaterLogs(t *testing.T) {
	db, cleanup := createTestDB(t, nil)
	defer cleanup()
	dir := db.Name()

	mustPut(t, db, "first", "log-one")
	db.Close()
	db = reopen(t, dir, nil)
	mustPut(t, db, "second", "log-two")
	db.Close()

	logs, _ := filepath.Glob(filepath.Join(dir, "*.log"))
	if len(logs) < 2 {
		t.Fatalf("expected at least two logs, got %v", logs)
	}
	data, err := os.ReadFile(logs[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	i := bytes.Index(data, []byte("log-one"))
	if i < 0 {
		t.Fatal("value not found in first log")
	}
	data[i] ^= 0xff
	if err := os.WriteFile(logs[0], data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	db = reopen(t, dir, nil)
	defer db.Close()
	// Replay never reaches the later log: its writes would not be a
	// consistent point in time without the damaged one.
	expectNotFound(t, db, nil, "first")
	expectNotFound(t, db, nil, "second")
	for _, l := range logs {
		if _, err := os.Stat(l); !os.IsNotExist(err) {
			t.Fatalf("log %s survived recovery", l)
		}
	}
}

func TestRecoveryUnsyncedWritesLost(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.FS = fs
	opts.Logger = logging.Discard

	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	synced := DefaultWriteOptions()
	synced.Sync = true
	if err := db.Put(synced, nil, []byte("durable"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := db.Put(nil, nil, []byte("volatile"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Crash: drop what was never synced and abandon the handle.
	if err := fs.DropUnsyncedData(); err != nil {
		t.Fatalf("DropUnsyncedData failed: %v", err)
	}
	db.closed.Store(true)
	_ = db.dbLock.Close()

	db = reopen(t, dir, opts)
	defer db.Close()
	expectValue(t, db, nil, "durable", "1")
	expectNotFound(t, db, nil, "volatile")
}

func TestWALWriteErrorIsSticky(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.FS = fs
	opts.Logger = logging.Discard

	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	mustPut(t, db, "before", "1")

	fs.InjectWriteError(onlyLogFile(t, dir))
	err = db.Put(nil, nil, []byte("k"), []byte("v"))
	if !errors.Is(err, ErrIOError) {
		t.Fatalf("Put with failing WAL = %v, want IOError", err)
	}
	expectNotFound(t, db, nil, "k")

	fs.ClearErrors()
	if err := db.Put(nil, nil, []byte("k"), []byte("v")); !errors.Is(err, ErrIOError) {
		t.Fatalf("Put after WAL failure = %v, want the sticky IOError", err)
	}

	txn := db.BeginTransaction(nil, nil)
	defer txn.Close()
	_ = txn.Put(nil, []byte("t"), []byte("v"))
	if err := txn.Commit(); !errors.Is(err, ErrIOError) {
		t.Fatalf("Commit after WAL failure = %v, want IOError", err)
	}
	expectValue(t, db, nil, "before", "1")

	// Writes that skip the WAL still work.
	wo := DefaultWriteOptions()
	wo.DisableWAL = true
	if err := db.Put(wo, nil, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("DisableWAL Put failed: %v", err)
	}
}

func TestWALSyncError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	opts := DefaultOptions()
	opts.CreateIfMissing = true
	opts.FS = fs
	opts.Logger = logging.Discard

	db, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	fs.InjectSyncError()
	if err := db.SyncWAL(); !errors.Is(err, ErrIOError) {
		t.Fatalf("SyncWAL = %v, want IOError", err)
	}
	fs.ClearErrors()
	if err := db.SyncWAL(); !errors.Is(err, ErrIOError) {
		t.Fatalf("SyncWAL after failure = %v, want the sticky IOError", err)
	}
}
