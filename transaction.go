package rockyardtxn

// transaction.go implements optimistic transactions.
//
// A transaction buffers its writes in a private write batch, indexed so its
// own reads see them. Every key it writes or reads for update is tracked
// with the sequence number its view of the key was taken at. Commit takes
// the DB write mutex, checks that no tracked key was written (or claimed by
// an exclusive read-for-update) after that sequence, and applies the batch
// atomically. Nothing is locked between calls, so transactions never block
// each other; the loser of a race finds out at commit.
//
// A transaction is reusable: a successful Commit or a Rollback clears its
// state and it can start over. Close releases it for good.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/utilities/transaction.h
//   - utilities/transactions/optimistic_transaction.cc
//   - utilities/transactions/transaction_base.cc

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/rockyardtxn/internal/batch"
	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/txn"
	"github.com/aalhour/rockyardtxn/internal/wbwi"
)

// Transaction is an optimistic transaction. It is safe for concurrent use,
// although operations on one transaction are serialized.
type Transaction struct {
	st *txnState
}

type txnCounts struct {
	puts, deletes, merges uint64
}

// txnState is the part of a Transaction a cleanup may touch.
type txnState struct {
	mu   sync.Mutex
	db   *DB
	id   uint64
	wo   WriteOptions
	opts TransactionOptions

	wb      *batch.WriteBatch
	index   *wbwi.Index
	tracker *txn.Tracker
	// snapshot is set by SetSnapshot; tracked keys then use its sequence.
	snapshot *Snapshot

	counts txnCounts
	saved  []txnCounts

	closed atomic.Bool
}

// BeginTransaction starts an optimistic transaction. nil options select the
// defaults. The transaction should be closed when no longer needed.
func (db *DB) BeginTransaction(wo *WriteOptions, to *TransactionOptions) *Transaction {
	if wo == nil {
		wo = DefaultWriteOptions()
	}
	if to == nil {
		to = DefaultTransactionOptions()
	}
	st := &txnState{
		db:      db,
		id:      db.nextTxnID.Add(1),
		wo:      *wo,
		opts:    *to,
		wb:      batch.New(),
		index:   wbwi.New(),
		tracker: txn.NewTracker(),
	}
	db.registry.Add(st.id)
	if to.SetSnapshot {
		st.setSnapshotLocked()
	}

	t := &Transaction{st: st}
	runtime.AddCleanup(t, func(st *txnState) {
		if st.close() {
			st.db.logger.Debugf(logging.NSTxn+"closed unreachable transaction %d", st.id)
		}
	}, st)
	db.logger.Debugf(logging.NSTxn+"began transaction %d", st.id)
	return t
}

// ID returns the transaction's ID, unique within the DB.
func (t *Transaction) ID() uint64 {
	return t.st.id
}

// check returns the error for operating on a closed transaction or DB.
// The caller holds st.mu.
func (st *txnState) check() error {
	if st.closed.Load() {
		return ErrTransactionClosed
	}
	if st.db.closed.Load() {
		return ErrDBClosed
	}
	return nil
}

// trackSeqLocked returns the sequence keys are tracked at: the transaction
// snapshot's, or the latest. Either way the registry learns that this
// transaction depends on writes after it.
func (st *txnState) trackSeqLocked() uint64 {
	if st.snapshot != nil {
		return st.snapshot.Sequence()
	}
	return st.db.registry.Begin(st.id, st.db.lastSeq.Load)
}

// setSnapshotLocked replaces the transaction snapshot with one at the
// latest sequence.
func (st *txnState) setSnapshotLocked() {
	if st.snapshot != nil {
		st.snapshot.Release()
	}
	var state *snapshotState
	st.db.registry.Begin(st.id, func() uint64 {
		state = st.db.snapshots.create(st.db.lastSeq.Load)
		return state.seq
	})
	st.snapshot = wrapSnapshot(st.db, state)
}

// SetSnapshot pins the current DB state as the transaction snapshot. Keys
// tracked from now on are validated against its sequence.
func (t *Transaction) SetSnapshot() {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed.Load() {
		return
	}
	st.setSnapshotLocked()
}

// GetSnapshot returns the transaction snapshot, or nil when none is set.
// The snapshot is owned by the transaction; callers must not release it.
func (t *Transaction) GetSnapshot() *Snapshot {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot
}

// readLocked reads key through the write buffer. With non-zero flags the
// key is tracked; an unpinned tracked read without a transaction snapshot
// happens at the tracked sequence.
func (st *txnState) readLocked(rv readView, seq uint64, cfd *columnFamilyData, key []byte, flags txn.Flags) ([]byte, bool, error) {
	v, found, err := st.db.getBuffered(st.index, cfd, key, rv)
	if err != nil {
		return nil, false, err
	}
	if flags != 0 {
		st.tracker.Track(cfd.id, key, seq, flags)
	}
	return v, found, nil
}

// viewLocked validates ro and returns the read view together with the
// tracking sequence for reads through it. seq is only meaningful when
// track is set.
func (st *txnState) viewLocked(ro *ReadOptions, track bool) (readView, uint64, error) {
	rv, err := st.db.readView(ro)
	if err != nil {
		return readView{}, 0, err
	}
	if !track {
		return rv, 0, nil
	}
	seq := st.trackSeqLocked()
	if !rv.pinned && st.snapshot == nil {
		rv.seq = seq
	}
	return rv, seq, nil
}

// Get reads key from cf, seeing the transaction's own writes first. An
// unpinned read is tracked; it is validated at commit when the transaction
// validates reads.
func (t *Transaction) Get(ro *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error) {
	pinned := ro != nil && ro.Snapshot != nil
	var flags txn.Flags
	if !pinned {
		flags = txn.FlagRead
	}
	return t.get(ro, cf, key, flags)
}

// GetForUpdate reads key like Get and always validates it at commit. With
// exclusive set, a successful commit also claims the key, so every other
// transaction that tracked it earlier fails to commit.
func (t *Transaction) GetForUpdate(ro *ReadOptions, cf ColumnFamilyHandle, key []byte, exclusive bool) ([]byte, error) {
	flags := txn.FlagValidate
	if exclusive {
		flags |= txn.FlagExclusive
	}
	return t.get(ro, cf, key, flags)
}

func (t *Transaction) get(ro *ReadOptions, cf ColumnFamilyHandle, key []byte, flags txn.Flags) ([]byte, error) {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return nil, err
	}
	cfd, err := st.db.columnFamily(cf)
	if err != nil {
		return nil, err
	}
	rv, seq, err := st.viewLocked(ro, flags != 0)
	if err != nil {
		return nil, err
	}
	v, found, err := st.readLocked(rv, seq, cfd, key, flags)
	st.db.recordGet(v, found, err)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return v, nil
}

// MultiGet reads keys from the default column family through the
// transaction.
func (t *Transaction) MultiGet(ro *ReadOptions, keys [][]byte) []Result {
	return t.MultiGetCF(ro, defaultCFKeys(keys))
}

// MultiGetCF reads (column family, key) pairs through the transaction.
// Unpinned reads are tracked like Get.
func (t *Transaction) MultiGetCF(ro *ReadOptions, keys []KeyCF) []Result {
	if len(keys) == 0 {
		return []Result{}
	}
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return fillError(len(keys), err)
	}
	track := ro == nil || ro.Snapshot == nil
	rv, seq, err := st.viewLocked(ro, track)
	if err != nil {
		return fillError(len(keys), err)
	}
	var flags txn.Flags
	if track {
		flags = txn.FlagRead
	}

	start := time.Now()
	out := make([]Result, len(keys))
	for i, k := range keys {
		cfd, err := st.db.columnFamily(k.CF)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Value, out[i].Found, out[i].Err = st.readLocked(rv, seq, cfd, k.Key, flags)
	}
	st.db.recordMultiGet(out, start)
	return out
}

// BatchedMultiGetCF reads keys from one column family through the
// transaction. Buffered writes are applied per key, so sortedInput only
// affects how the DB state is read.
func (t *Transaction) BatchedMultiGetCF(ro *ReadOptions, cf ColumnFamilyHandle, keys [][]byte, sortedInput bool) []Result {
	if len(keys) == 0 {
		return []Result{}
	}
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return fillError(len(keys), err)
	}
	cfd, err := st.db.columnFamily(cf)
	if err != nil {
		return fillError(len(keys), err)
	}
	track := ro == nil || ro.Snapshot == nil
	rv, seq, err := st.viewLocked(ro, track)
	if err != nil {
		return fillError(len(keys), err)
	}

	start := time.Now()
	out := st.db.batchedGet(cfd, keys, rv, sortedInput)
	for i, k := range keys {
		e, ok, err := st.index.Get(cfd.id, k)
		if err != nil {
			out[i] = Result{Err: corruption(err, "transaction write index")}
			continue
		}
		if ok {
			base := out[i]
			out[i] = Result{}
			out[i].Value, out[i].Found, out[i].Err = st.db.resolveBuffered(cfd, k, e, func() ([]byte, bool, error) {
				return base.Value, base.Found, base.Err
			})
		}
		if track && out[i].Err == nil {
			st.tracker.Track(cfd.id, k, seq, txn.FlagRead)
		}
	}
	st.db.recordMultiGet(out, start)
	return out
}

// NewIterator iterates cf with the transaction's writes layered over the DB
// state. Writes made after the iterator is created are not visible to it.
func (t *Transaction) NewIterator(ro *ReadOptions, cf ColumnFamilyHandle) Iterator {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return &errorIterator{err: err}
	}
	cfd, err := st.db.columnFamily(cf)
	if err != nil {
		return &errorIterator{err: err}
	}
	rv, err := st.db.readView(ro)
	if err != nil {
		return &errorIterator{err: err}
	}
	delta, err := wbwi.Build(st.wb)
	if err != nil {
		return &errorIterator{err: corruption(err, "transaction write index")}
	}
	return newBaseDeltaIterator(st.db, cfd, rv, delta)
}

// writeLocked buffers one write and tracks its key for validation.
func (st *txnState) writeLocked(cf ColumnFamilyHandle, key []byte, apply func(cfd *columnFamilyData) error) error {
	if err := st.check(); err != nil {
		return err
	}
	cfd, err := st.db.columnFamily(cf)
	if err != nil {
		return err
	}
	if err := apply(cfd); err != nil {
		return err
	}
	st.tracker.Track(cfd.id, key, st.trackSeqLocked(), txn.FlagValidate)
	return nil
}

// Put buffers key=value in cf.
func (t *Transaction) Put(cf ColumnFamilyHandle, key, value []byte) error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.writeLocked(cf, key, func(cfd *columnFamilyData) error {
		if err := st.index.Put(cfd.id, key, value); err != nil {
			return corruption(err, "transaction write index")
		}
		st.wb.Put(cfd.id, key, value)
		st.counts.puts++
		return nil
	})
}

// Delete buffers a deletion of key in cf.
func (t *Transaction) Delete(cf ColumnFamilyHandle, key []byte) error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.writeLocked(cf, key, func(cfd *columnFamilyData) error {
		if err := st.index.Delete(cfd.id, key); err != nil {
			return corruption(err, "transaction write index")
		}
		st.wb.Delete(cfd.id, key)
		st.counts.deletes++
		return nil
	})
}

// Merge buffers a merge operand for key in cf. The column family must have
// a merge operator.
func (t *Transaction) Merge(cf ColumnFamilyHandle, key, operand []byte) error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.writeLocked(cf, key, func(cfd *columnFamilyData) error {
		if cfd.mergeOp == nil {
			return ErrMergeOperatorNotSet
		}
		if err := st.index.Merge(cfd.id, key, operand); err != nil {
			return corruption(err, "transaction write index")
		}
		st.wb.Merge(cfd.id, key, operand)
		st.counts.merges++
		return nil
	})
}

// SetSavepoint records the current state of the transaction. A later
// RollbackToSavepoint returns to it.
func (t *Transaction) SetSavepoint() error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return err
	}
	st.wb.SetSavePoint()
	st.tracker.SetSavepoint()
	st.saved = append(st.saved, st.counts)
	return nil
}

// RollbackToSavepoint undoes every write and tracked key since the most
// recent savepoint and pops it. It returns ErrNoSavepoint when there is
// none.
func (t *Transaction) RollbackToSavepoint() error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return err
	}
	if err := st.wb.RollbackToSavePoint(); err != nil {
		return ErrNoSavepoint
	}
	st.tracker.RollbackToSavepoint()
	n := len(st.saved) - 1
	st.counts, st.saved = st.saved[n], st.saved[:n]
	if err := st.index.Rebuild(st.wb); err != nil {
		return corruption(err, "rebuild transaction write index")
	}
	recordTick(st.db.stats, TickerTxnSavepointRollback, 1)
	return nil
}

// PopSavepoint discards the most recent savepoint without undoing anything.
// It returns ErrNoSavepoint when there is none.
func (t *Transaction) PopSavepoint() error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return err
	}
	if err := st.wb.PopSavePoint(); err != nil {
		return ErrNoSavepoint
	}
	st.tracker.PopSavepoint()
	st.saved = st.saved[:len(st.saved)-1]
	return nil
}

// latestWrite returns the newest sequence at which key was written or
// claimed. Keys of a dropped column family always conflict.
func (db *DB) latestWrite(cf uint32, key []byte) uint64 {
	var latest uint64
	cfd := db.cfs.getByID(cf)
	if cfd == nil || cfd.dropped.Load() {
		return ^uint64(0)
	}
	if seq, ok := cfd.mem.LatestSeq(key); ok {
		latest = uint64(seq)
	}
	if claimed := db.conflicts.Latest(cf, key); claimed > latest {
		latest = claimed
	}
	return latest
}

// Commit validates the transaction and applies its writes atomically. If a
// tracked key changed after it was tracked, Commit returns an error
// matching ErrConflict and the transaction keeps its writes, so the caller
// may roll back or retry. On success the transaction is cleared for reuse.
func (t *Transaction) Commit() error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.check(); err != nil {
		return err
	}
	db := st.db
	start := time.Now()

	db.writeMu.Lock()
	if db.closed.Load() {
		db.writeMu.Unlock()
		return ErrDBClosed
	}
	if k, conflict := st.tracker.Validate(st.opts.ValidateReads, db.latestWrite); conflict {
		db.writeMu.Unlock()
		recordTick(db.stats, TickerTxnConflict, 1)
		db.logger.Debugf(logging.NSTxn+"transaction %d conflicts on key %q", st.id, k.Key)
		return &Error{
			Code:    CodeBusy,
			SubCode: SubCodeConflict,
			Msg:     fmt.Sprintf("key %q in column family %d changed after transaction %d read it", k.Key, k.CF, st.id),
		}
	}
	if err := db.writeLocked(&st.wo, st.wb); err != nil {
		db.writeMu.Unlock()
		return err
	}
	if claimed := st.tracker.Exclusive(); len(claimed) > 0 {
		commitSeq := db.lastSeq.Load()
		if st.wb.Count() == 0 {
			// A read-only commit still needs its own sequence to claim keys
			// that others tracked at the current one.
			commitSeq++
			db.lastSeq.Store(commitSeq)
		}
		for _, k := range claimed {
			db.conflicts.Stamp(k.CF, []byte(k.Key), commitSeq)
		}
	}
	db.writeMu.Unlock()

	writes := st.wb.Count()
	st.resetLocked()
	db.conflicts.Prune(db.registry.Oldest(db.lastSeq.Load()))

	recordTick(db.stats, TickerTxnCommit, 1)
	measureTime(db.stats, HistogramTxnCommit, uint64(time.Since(start).Microseconds()))
	db.logger.Debugf(logging.NSTxn+"committed transaction %d (%d writes)", st.id, writes)
	return nil
}

// Rollback discards every buffered write, tracked key and savepoint. The
// transaction stays usable.
func (t *Transaction) Rollback() error {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed.Load() {
		return ErrTransactionClosed
	}
	st.resetLocked()
	recordTick(st.db.stats, TickerTxnRollback, 1)
	return nil
}

// resetLocked clears the transaction for reuse. A transaction that began
// with a snapshot gets a fresh one.
func (st *txnState) resetLocked() {
	st.wb.Clear()
	st.index.Reset()
	st.tracker.Clear()
	st.counts = txnCounts{}
	st.saved = nil
	if st.snapshot != nil {
		st.snapshot.Release()
		st.snapshot = nil
	}
	st.db.registry.Reset(st.id)
	if st.opts.SetSnapshot {
		st.setSnapshotLocked()
	}
}

// close releases the transaction's snapshot and registration. It reports
// whether this call did so.
func (st *txnState) close() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.closed.CompareAndSwap(false, true) {
		return false
	}
	if st.snapshot != nil {
		st.snapshot.Release()
		st.snapshot = nil
	}
	st.db.registry.Remove(st.id)
	st.wb.Clear()
	st.index.Reset()
	st.tracker.Clear()
	return true
}

// Close releases the transaction. Uncommitted writes are discarded and
// every later operation returns ErrTransactionClosed. Calling Close more
// than once is a no-op.
func (t *Transaction) Close() error {
	t.st.close()
	return nil
}

// NumPuts returns the number of buffered puts.
func (t *Transaction) NumPuts() uint64 {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.counts.puts
}

// NumDeletes returns the number of buffered deletes.
func (t *Transaction) NumDeletes() uint64 {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.counts.deletes
}

// NumMerges returns the number of buffered merges.
func (t *Transaction) NumMerges() uint64 {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.counts.merges
}

// NumKeys returns the number of distinct keys tracked for validation.
func (t *Transaction) NumKeys() int {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	return t.st.tracker.Len()
}
