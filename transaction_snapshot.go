package rockyardtxn

// transaction_snapshot.go implements frozen read views of a transaction.
//
// A TransactionSnapshot captures two things when it is created: a DB
// snapshot (the transaction's own, if it has one, otherwise a fresh one) and
// a copy of the transaction's buffered writes. Its reads see exactly that
// state. Writes the transaction makes afterwards, and writes other clients
// commit, are invisible. Reads through it are never tracked for validation.

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/wbwi"
)

// TransactionSnapshot is a read-only view of a transaction at a point in
// time. It is safe for concurrent use.
type TransactionSnapshot struct {
	h *txnSnapshotHandle
}

type txnSnapshotHandle struct {
	st   *txnState
	snap *Snapshot   // nil when created from a closed transaction
	idx  *wbwi.Index // frozen write buffer
	err  error       // failure to freeze the write buffer

	released atomic.Bool
}

func (h *txnSnapshotHandle) release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	if h.snap != nil {
		h.snap.Release()
	}
	return true
}

// Snapshot returns a frozen view of the transaction: its DB snapshot, or a
// new one, plus its current buffered writes. Release it when done.
func (t *Transaction) Snapshot() *TransactionSnapshot {
	st := t.st
	st.mu.Lock()
	defer st.mu.Unlock()

	h := &txnSnapshotHandle{st: st}
	if !st.closed.Load() {
		if st.snapshot != nil {
			state := st.snapshot.h.state
			state.ref()
			h.snap = wrapSnapshot(st.db, state)
		} else {
			h.snap = st.db.GetSnapshot()
		}
		h.idx, h.err = wbwi.Build(st.wb)
	}

	s := &TransactionSnapshot{h: h}
	runtime.AddCleanup(s, func(h *txnSnapshotHandle) {
		if h.release() {
			h.st.db.logger.Debugf(logging.NSSnapshot+"released unreachable transaction snapshot of transaction %d", h.st.id)
		}
	}, h)
	return s
}

// Sequence returns the sequence number of the pinned DB state, or 0 when the
// snapshot was taken from a closed transaction.
func (s *TransactionSnapshot) Sequence() uint64 {
	if s.h.snap == nil {
		return 0
	}
	return s.h.snap.Sequence()
}

// Release releases the snapshot. Calling it more than once is a no-op.
func (s *TransactionSnapshot) Release() {
	s.h.release()
}

// check returns the error for reading through the snapshot, and ro with the
// pinned snapshot attached.
func (s *TransactionSnapshot) check(ro *ReadOptions) (*ReadOptions, error) {
	h := s.h
	if h.released.Load() {
		return nil, ErrSnapshotReleased
	}
	if h.st.closed.Load() || h.snap == nil {
		return nil, ErrTransactionClosed
	}
	if h.err != nil {
		return nil, corruption(h.err, "transaction write index")
	}
	return h.snap.pin(ro), nil
}

// Get reads key from cf as the transaction saw it at creation.
func (s *TransactionSnapshot) Get(ro *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error) {
	ro, err := s.check(ro)
	if err != nil {
		return nil, err
	}
	db := s.h.st.db
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return nil, err
	}
	rv, err := db.readView(ro)
	if err != nil {
		return nil, err
	}
	v, found, err := db.getBuffered(s.h.idx, cfd, key, rv)
	db.recordGet(v, found, err)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return v, nil
}

// MultiGet reads keys from the default column family.
func (s *TransactionSnapshot) MultiGet(ro *ReadOptions, keys [][]byte) []Result {
	return s.MultiGetCF(ro, defaultCFKeys(keys))
}

// MultiGetCF reads (column family, key) pairs.
func (s *TransactionSnapshot) MultiGetCF(ro *ReadOptions, keys []KeyCF) []Result {
	if len(keys) == 0 {
		return []Result{}
	}
	ro, err := s.check(ro)
	if err != nil {
		return fillError(len(keys), err)
	}
	db := s.h.st.db
	rv, err := db.readView(ro)
	if err != nil {
		return fillError(len(keys), err)
	}
	out := make([]Result, len(keys))
	for i, k := range keys {
		cfd, err := db.columnFamily(k.CF)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Value, out[i].Found, out[i].Err = db.getBuffered(s.h.idx, cfd, k.Key, rv)
	}
	return out
}

// BatchedMultiGetCF reads keys from one column family in one pass over the
// pinned DB state, then applies the frozen buffered writes. With sortedInput
// the keys must be in ascending order.
func (s *TransactionSnapshot) BatchedMultiGetCF(ro *ReadOptions, cf ColumnFamilyHandle, keys [][]byte, sortedInput bool) []Result {
	if len(keys) == 0 {
		return []Result{}
	}
	ro, err := s.check(ro)
	if err != nil {
		return fillError(len(keys), err)
	}
	db := s.h.st.db
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return fillError(len(keys), err)
	}
	rv, err := db.readView(ro)
	if err != nil {
		return fillError(len(keys), err)
	}

	start := time.Now()
	out := db.batchedGet(cfd, keys, rv, sortedInput)
	for i, k := range keys {
		e, ok, err := s.h.idx.Get(cfd.id, k)
		if err != nil {
			out[i] = Result{Err: corruption(err, "transaction write index")}
			continue
		}
		if !ok {
			continue
		}
		base := out[i]
		out[i] = Result{}
		out[i].Value, out[i].Found, out[i].Err = db.resolveBuffered(cfd, k, e, func() ([]byte, bool, error) {
			return base.Value, base.Found, base.Err
		})
	}
	db.recordMultiGet(out, start)
	return out
}

// NewIterator iterates cf as the transaction saw it at creation.
func (s *TransactionSnapshot) NewIterator(ro *ReadOptions, cf ColumnFamilyHandle) Iterator {
	ro, err := s.check(ro)
	if err != nil {
		return &errorIterator{err: err}
	}
	db := s.h.st.db
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return &errorIterator{err: err}
	}
	rv, err := db.readView(ro)
	if err != nil {
		return &errorIterator{err: err}
	}
	return newBaseDeltaIterator(db, cfd, rv, s.h.idx)
}
