package rockyardtxn

// db.go implements opening, closing and destroying a database.
//
// A DB directory holds:
//
//	LOCK       flock held while the DB is open
//	OPTIONS    TOML options file written on every open
//	NNNNNN.log write-ahead logs, replayed in order on open
//
// Every committed write lives in a per-column-family memtable. The WAL is
// the only durable state: a reopen replays all logs and starts a new one.
// There is no flush, so replayed logs are kept. Open time and the number of
// logs grow with every reopen and with the total volume of writes.
// With Options.InMemory nothing touches the filesystem.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_open.cc
//   - db/db_impl/db_impl.cc

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/rowcache"
	"github.com/aalhour/rockyardtxn/internal/txn"
	"github.com/aalhour/rockyardtxn/internal/vfs"
	"github.com/aalhour/rockyardtxn/internal/wal"
)

const lockFileName = "LOCK"

// DB is an embedded key-value database with optimistic transactions.
// All methods are safe for concurrent use.
type DB struct {
	name   string
	opts   *Options
	fs     FS
	logger Logger
	stats  Statistics

	dbLock io.Closer

	// writeMu serializes writes, commit validation and column family changes.
	writeMu sync.Mutex
	// lastSeq is the last published sequence number. Writes at higher
	// sequences may already sit in a memtable but are invisible until
	// lastSeq covers them.
	lastSeq atomic.Uint64

	cfs       *columnFamilySet
	snapshots snapshotList
	rowCache  *rowcache.Cache

	// log is the active WAL; nil for in-memory databases. Guarded by writeMu.
	log *walLog
	// walErr is the sticky error of a failed WAL write. Guarded by writeMu.
	walErr error
	// bgErr is set by a fatal condition and stops all writes.
	bgErr atomic.Pointer[Error]

	conflicts *txn.ConflictTable
	registry  *txn.Registry
	nextTxnID atomic.Uint64

	// Mutable options, see SetOptions.
	paranoidChecks  atomic.Bool
	walCompression  atomic.Uint32
	verifyChecksums atomic.Bool

	closed atomic.Bool
}

// walLog is the WAL file currently appended to.
type walLog struct {
	number uint64
	file   vfs.WritableFile
	w      *wal.Writer
}

func logFileName(dir string, number uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", number))
}

// Open opens the database at path. opts may be nil.
func Open(path string, opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if !opts.WALCompression.IsSupported() {
		return nil, newError(CodeInvalidArgument, "unsupported WAL compression %s", opts.WALCompression)
	}
	if opts.RowCacheSize < 0 {
		return nil, newError(CodeInvalidArgument, "row cache size must not be negative")
	}

	o := *opts
	if o.FS == nil {
		o.FS = vfs.Default()
	}
	o.Logger = logging.OrDefault(o.Logger)

	db := &DB{
		name:      path,
		opts:      &o,
		fs:        o.FS,
		logger:    o.Logger,
		stats:     o.Statistics,
		conflicts: txn.NewConflictTable(),
		registry:  txn.NewRegistry(),
	}
	db.snapshots.init()
	db.cfs = newColumnFamilySet(db)
	db.paranoidChecks.Store(o.ParanoidChecks)
	db.walCompression.Store(uint32(o.WALCompression))
	db.verifyChecksums.Store(DefaultReadOptions().VerifyChecksums)
	if o.RowCacheSize > 0 {
		db.rowCache = rowcache.New(o.RowCacheSize)
	}
	if dl, ok := db.logger.(*logging.DefaultLogger); ok {
		dl.SetFatalHandler(db.setBackgroundError)
	}

	if o.InMemory {
		db.logger.Infof(logging.NSDB+"opened in-memory database %q", path)
		return db, nil
	}

	if err := db.openDir(); err != nil {
		if db.dbLock != nil {
			_ = db.dbLock.Close()
		}
		return nil, err
	}
	db.logger.Infof(logging.NSDB+"opened database %q at sequence %d", path, db.lastSeq.Load())
	return db, nil
}

// openDir locks the directory, recovers it and starts a new WAL.
func (db *DB) openDir() error {
	exists := db.fs.Exists(filepath.Join(db.name, OptionsFileName))
	if exists && db.opts.ErrorIfExists {
		return newError(CodeInvalidArgument, "%s: exists (error_if_exists is true)", db.name)
	}
	if !exists && !db.opts.CreateIfMissing {
		return newError(CodeInvalidArgument, "%s: does not exist (create_if_missing is false)", db.name)
	}
	if err := db.fs.MkdirAll(db.name, 0o755); err != nil {
		return ioError(err, "create db directory")
	}

	lock, err := db.fs.Lock(filepath.Join(db.name, lockFileName))
	if err != nil {
		return lockError(err, db.name)
	}
	db.dbLock = lock

	rec, err := db.recover()
	if err != nil {
		return err
	}

	if err := WriteOptionsFile(db.fs, filepath.Join(db.name, OptionsFileName), db.opts); err != nil {
		return err
	}

	file, err := db.fs.Create(logFileName(db.name, rec.nextLogNumber))
	if err != nil {
		return ioError(err, "create WAL")
	}
	db.log = &walLog{number: rec.nextLogNumber, file: file, w: wal.NewWriter(file, 0)}

	if err := db.salvage(rec); err != nil {
		return err
	}
	if err := db.fs.SyncDir(db.name); err != nil {
		return ioError(err, "sync db directory")
	}
	return nil
}

func lockError(err error, name string) error {
	if errors.Is(err, vfs.ErrLocked) {
		return &Error{Code: CodeBusy, SubCode: SubCodeLockHeld, Msg: fmt.Sprintf("%s: database is in use", name), cause: err}
	}
	return ioError(err, "lock db directory")
}

// Name returns the path the database was opened with.
func (db *DB) Name() string {
	return db.name
}

// LatestSequenceNumber returns the sequence number of the most recent write.
func (db *DB) LatestSequenceNumber() uint64 {
	return db.lastSeq.Load()
}

// SetOptions changes mutable options at runtime. Every entry is validated
// before any is applied.
func (db *DB) SetOptions(kv map[string]string) error {
	if db.closed.Load() {
		return ErrDBClosed
	}
	m, err := parseMutableOptions(kv)
	if err != nil {
		return err
	}
	if m.paranoidChecks != nil {
		db.paranoidChecks.Store(*m.paranoidChecks)
	}
	if m.walCompression != nil {
		db.walCompression.Store(uint32(*m.walCompression))
	}
	if m.verifyChecksums != nil {
		db.verifyChecksums.Store(*m.verifyChecksums)
	}
	db.logger.Infof(logging.NSDB+"set options: %s", m)
	return nil
}

// Close syncs and closes the WAL and releases the directory lock. Snapshots
// and transactions stay valid objects but every operation on them fails.
// Calling Close more than once is a no-op.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	var firstErr error
	if db.log != nil {
		if err := db.log.w.Sync(); err != nil && db.walErr == nil {
			firstErr = ioError(err, "sync WAL on close")
		}
		if err := db.log.file.Close(); err != nil && firstErr == nil {
			firstErr = ioError(err, "close WAL")
		}
		db.log = nil
	}
	if db.dbLock != nil {
		if err := db.dbLock.Close(); err != nil && firstErr == nil {
			firstErr = ioError(err, "release db lock")
		}
		db.dbLock = nil
	}
	db.logger.Infof(logging.NSDB+"closed database %q", db.name)
	return firstErr
}

// DestroyDB removes the database at path. It fails with a Busy error
// (SubCodeLockHeld) while the database is open.
func DestroyDB(path string, opts *Options) error {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.InMemory {
		return nil
	}
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}
	if !fs.Exists(path) {
		return nil
	}

	lock, err := fs.Lock(filepath.Join(path, lockFileName))
	if err != nil {
		return lockError(err, path)
	}
	if err := lock.Close(); err != nil {
		return ioError(err, "release db lock")
	}
	if err := fs.RemoveAll(path); err != nil {
		return ioError(err, "remove db directory")
	}
	return nil
}
