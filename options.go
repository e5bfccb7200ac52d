package rockyardtxn

// options.go implements database, read, write and transaction options.

import (
	"github.com/aalhour/rockyardtxn/internal/compression"
	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/vfs"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// FS is an alias for the filesystem interface the DB writes through.
type FS = vfs.FS

// CompressionType is an alias for the WAL compression type.
type CompressionType = compression.Type

// Compression type constants.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	LZ4Compression    = compression.LZ4Compression
	ZstdCompression   = compression.ZstdCompression
)

// Options configures a DB.
type Options struct {
	// CreateIfMissing causes Open to create the database if it does not exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to return an error if the database already exists.
	ErrorIfExists bool

	// InMemory keeps everything in memory. No directory, LOCK file or WAL is
	// created and the path passed to Open is only used as a name.
	InMemory bool

	// ParanoidChecks makes recovery fail on a corrupted WAL record instead of
	// stopping replay at it.
	ParanoidChecks bool

	// WALCompression compresses WAL record bodies.
	WALCompression CompressionType

	// MergeOperator is the default merge operator for column families.
	MergeOperator MergeOperator

	// RowCacheSize is the size in bytes of the row cache. Zero disables it.
	RowCacheSize int

	// Logger receives operational messages. If nil, a WARN-level zap logger
	// writing to stderr is used.
	Logger Logger

	// Statistics collects tickers if set.
	Statistics Statistics

	// FS is the filesystem implementation to use.
	// If nil, the OS filesystem is used.
	FS FS
}

// DefaultOptions returns a new Options with default values.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing: false,
		ErrorIfExists:   false,
		ParanoidChecks:  false,
		WALCompression:  NoCompression,
		RowCacheSize:    0,
		Logger:          nil, // Will use the default logger
		FS:              nil, // Will use vfs.Default()
	}
}

// ColumnFamilyOptions configures a column family.
type ColumnFamilyOptions struct {
	// MergeOperator overrides Options.MergeOperator for this column family.
	MergeOperator MergeOperator
}

// DefaultColumnFamilyOptions returns ColumnFamilyOptions with default values.
func DefaultColumnFamilyOptions() *ColumnFamilyOptions {
	return &ColumnFamilyOptions{}
}

// ReadOptions contains options for read operations.
type ReadOptions struct {
	// Snapshot pins reads to the snapshot's sequence number.
	// If nil, the most recent state is used.
	Snapshot *Snapshot

	// VerifyChecksums checks each consulted entry's value checksum. A
	// mismatch is reported as a Corruption error for that key.
	VerifyChecksums bool

	// FillCache indicates whether a read of the latest state may populate
	// the row cache.
	FillCache bool

	// TotalOrderSeek is accepted for compatibility; iteration is always
	// total-order.
	TotalOrderSeek bool

	// ReadaheadSize is accepted for compatibility; the table is in memory.
	ReadaheadSize int

	// IterateLowerBound makes iterators skip keys < this bound.
	IterateLowerBound []byte

	// IterateUpperBound makes iterators stop before keys >= this bound.
	IterateUpperBound []byte
}

// DefaultReadOptions returns ReadOptions with default values.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		VerifyChecksums: true,
		FillCache:       true,
		Snapshot:        nil,
	}
}

// Clone returns a copy of ro. A nil receiver yields the defaults.
func (ro *ReadOptions) Clone() *ReadOptions {
	if ro == nil {
		return DefaultReadOptions()
	}
	c := *ro
	return &c
}

// WriteOptions contains options for write operations.
type WriteOptions struct {
	// Sync causes writes to be flushed to the WAL and fsynced before returning.
	Sync bool

	// DisableWAL skips the write-ahead log for this write. Such a write is
	// not recovered after a restart.
	DisableWAL bool
}

// DefaultWriteOptions returns WriteOptions with default values.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{
		Sync:       false,
		DisableWAL: false,
	}
}

// TransactionOptions configures an optimistic transaction.
type TransactionOptions struct {
	// SetSnapshot pins a snapshot at begin. Keys are then validated against
	// the snapshot's sequence rather than the sequence at first access.
	SetSnapshot bool

	// ValidateReads makes Commit validate keys read with plain Get, not only
	// keys written or read for update.
	ValidateReads bool
}

// DefaultTransactionOptions returns TransactionOptions with default values.
func DefaultTransactionOptions() *TransactionOptions {
	return &TransactionOptions{}
}
