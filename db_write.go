package rockyardtxn

// db_write.go implements the write path.
//
// A write takes the DB write mutex and then, in order:
//
//  1. validates every record (column family alive, merge operator set)
//  2. assigns consecutive sequence numbers, one per record
//  3. appends the batch to the WAL unless DisableWAL is set
//  4. inserts every record into its column family's memtable
//  5. publishes the last sequence so readers can see the batch
//
// Until step 5 no reader can observe any record of the batch, which makes
// the batch atomic.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_write.cc
//   - db/write_batch.cc (MemTableInserter)

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/aalhour/rockyardtxn/internal/batch"
	"github.com/aalhour/rockyardtxn/internal/dbformat"
	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/mempool"
	"github.com/aalhour/rockyardtxn/internal/wal"
)

// Put sets key to value in cf. nil wo and nil cf select the defaults.
func (db *DB) Put(wo *WriteOptions, cf ColumnFamilyHandle, key, value []byte) error {
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return err
	}
	b := batch.New()
	b.Put(cfd.id, key, value)
	return db.write(wo, b)
}

// Delete removes key from cf.
func (db *DB) Delete(wo *WriteOptions, cf ColumnFamilyHandle, key []byte) error {
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return err
	}
	b := batch.New()
	b.Delete(cfd.id, key)
	return db.write(wo, b)
}

// Merge records a merge operand for key in cf. The column family must have
// a merge operator.
func (db *DB) Merge(wo *WriteOptions, cf ColumnFamilyHandle, key, operand []byte) error {
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return err
	}
	if cfd.mergeOp == nil {
		return ErrMergeOperatorNotSet
	}
	b := batch.New()
	b.Merge(cfd.id, key, operand)
	return db.write(wo, b)
}

// Write applies wb atomically. An empty or nil batch is a no-op.
func (db *DB) Write(wo *WriteOptions, wb *WriteBatch) error {
	if wb == nil || wb.Count() == 0 {
		if db.closed.Load() {
			return ErrDBClosed
		}
		return nil
	}
	for _, cf := range wb.handles {
		if _, err := db.columnFamily(cf); err != nil {
			return err
		}
	}
	return db.write(wo, wb.internal)
}

func (db *DB) write(wo *WriteOptions, b *batch.WriteBatch) error {
	start := time.Now()
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed.Load() {
		return ErrDBClosed
	}
	err := db.writeLocked(wo, b)
	measureTime(db.stats, HistogramDBWrite, uint64(time.Since(start).Microseconds()))
	return err
}

// writeLocked applies b. The caller holds writeMu. On error nothing is
// visible to readers.
func (db *DB) writeLocked(wo *WriteOptions, b *batch.WriteBatch) error {
	if err := db.bgErr.Load(); err != nil {
		return err
	}
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	count := b.Count()
	if count == 0 {
		return nil
	}

	if err := b.Iterate(&batchChecker{db: db}); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		return corruption(err, "decode write batch")
	}

	first := db.lastSeq.Load() + 1
	b.SetSequence(first)

	if !wo.DisableWAL && db.log != nil {
		if err := db.logRecord(wal.KindBatch, b.Data(), wo.Sync); err != nil {
			return err
		}
		recordTick(db.stats, TickerWriteWithWAL, 1)
	} else {
		recordTick(db.stats, TickerWriteWithoutWAL, 1)
	}

	ins := &memInserter{db: db, seq: first}
	if err := b.Iterate(ins); err != nil {
		// The batch decoded once already; failing now means memory damage.
		// Part of it may be in the memtables, so no later write is safe.
		db.fatalf(logging.NSDB+"apply of validated batch failed: %v", err)
		return db.bgErr.Load()
	}
	db.lastSeq.Store(first + uint64(count) - 1)

	recordTick(db.stats, TickerNumberKeysWritten, uint64(count))
	recordTick(db.stats, TickerBytesWritten, ins.bytes)
	return nil
}

// logRecord appends one logical record to the WAL. The caller holds writeMu.
// After a failed append or sync every later append fails with the same
// error: the log may hold a partial record, and writing past it would hide
// later records from replay.
func (db *DB) logRecord(kind wal.Kind, body []byte, sync bool) error {
	if err := db.bgErr.Load(); err != nil {
		return err
	}
	if db.walErr != nil {
		return db.walErr
	}
	rec, err := wal.AppendRecord(mempool.GlobalPool.Get(2+len(body)), kind, CompressionType(db.walCompression.Load()), body)
	if err != nil {
		mempool.GlobalPool.Put(rec)
		return newError(CodeInvalidArgument, "%v", err)
	}
	n, err := db.log.w.AddRecord(rec)
	mempool.GlobalPool.Put(rec)
	recordTick(db.stats, TickerWALFileBytes, uint64(n))
	if err != nil {
		db.walErr = ioError(err, "append to WAL")
		db.logger.Errorf(logging.NSWAL+"%v", db.walErr)
		return db.walErr
	}
	if sync {
		if err := db.log.w.Sync(); err != nil {
			db.walErr = ioError(err, "sync WAL")
			db.logger.Errorf(logging.NSWAL+"%v", db.walErr)
			return db.walErr
		}
		recordTick(db.stats, TickerWALFileSynced, 1)
	}
	return nil
}

// fatalf logs a fatal condition and stops the DB from accepting writes.
// With a DefaultLogger the fatal handler has already set the error.
func (db *DB) fatalf(format string, args ...any) {
	db.logger.Fatalf(format, args...)
	db.setBackgroundError(fmt.Sprintf(format, args...))
}

// setBackgroundError records the first fatal condition. Reads keep working;
// every later write, commit and column family change fails with it.
func (db *DB) setBackgroundError(msg string) {
	db.bgErr.CompareAndSwap(nil, &Error{
		Code:  CodeCorruption,
		Msg:   "background error: " + msg,
		cause: fmt.Errorf("%w: %s", logging.ErrFatal, msg),
	})
}

// SyncWAL fsyncs the WAL.
func (db *DB) SyncWAL() error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed.Load() {
		return ErrDBClosed
	}
	if db.log == nil {
		return nil
	}
	if db.walErr != nil {
		return db.walErr
	}
	if err := db.log.w.Sync(); err != nil {
		db.walErr = ioError(err, "sync WAL")
		return db.walErr
	}
	recordTick(db.stats, TickerWALFileSynced, 1)
	return nil
}

// batchChecker rejects batches that name unknown or dropped column families,
// or merge into a column family without a merge operator.
type batchChecker struct {
	db *DB
	// recovering skips the merge operator check: logged operands are data.
	recovering bool
}

func (c *batchChecker) check(cfID uint32, merge bool) error {
	cfd := c.db.cfs.getByID(cfID)
	if cfd == nil {
		if c.recovering {
			return errors.Errorf("write to unknown column family %d", cfID)
		}
		return ErrColumnFamilyDropped
	}
	if merge && !c.recovering && cfd.mergeOp == nil {
		return ErrMergeOperatorNotSet
	}
	return nil
}

func (c *batchChecker) Put(cfID uint32, _, _ []byte) error   { return c.check(cfID, false) }
func (c *batchChecker) Delete(cfID uint32, _ []byte) error   { return c.check(cfID, false) }
func (c *batchChecker) Merge(cfID uint32, _, _ []byte) error { return c.check(cfID, true) }

// memInserter applies batch records to memtables, one sequence each.
type memInserter struct {
	db    *DB
	seq   uint64
	bytes uint64
}

func (m *memInserter) apply(cfID uint32, kind dbformat.ValueType, key, value []byte) error {
	cfd := m.db.cfs.getByID(cfID)
	if cfd == nil {
		return errors.Errorf("write to unknown column family %d", cfID)
	}
	cfd.mu.Lock()
	cfd.mem.Add(dbformat.SequenceNumber(m.seq), kind, key, value)
	cfd.lastApplied = m.seq
	if m.db.rowCache != nil {
		m.db.rowCache.Invalidate(cfID, key)
	}
	cfd.mu.Unlock()
	m.seq++
	m.bytes += uint64(len(key) + len(value))
	return nil
}

func (m *memInserter) Put(cfID uint32, key, value []byte) error {
	return m.apply(cfID, dbformat.TypeValue, key, value)
}

func (m *memInserter) Delete(cfID uint32, key []byte) error {
	return m.apply(cfID, dbformat.TypeDeletion, key, nil)
}

func (m *memInserter) Merge(cfID uint32, key, value []byte) error {
	return m.apply(cfID, dbformat.TypeMerge, key, value)
}
