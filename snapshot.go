package rockyardtxn

// snapshot.go implements snapshot management.
//
// Snapshots provide consistent point-in-time views of the database.
// All reads from a snapshot see the database state at creation time.
//
// A snapshot's sequence lives in a ref-counted snapshotState kept on the
// DB's snapshot list. Each *Snapshot wrapper owns exactly one reference and
// gives it back exactly once: on Release, or from a runtime cleanup when the
// wrapper becomes unreachable without having been released.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/snapshot.h
//   - db/snapshot_impl.h

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aalhour/rockyardtxn/internal/logging"
)

// snapshotState is one pinned sequence number on the DB's list.
type snapshotState struct {
	seq       uint64
	createdAt int64 // Unix seconds
	refs      atomic.Int32
	list      *snapshotList

	// Linked list for snapshot management, oldest first.
	prev *snapshotState
	next *snapshotState
}

func (s *snapshotState) ref() {
	s.refs.Add(1)
}

func (s *snapshotState) unref() {
	if s.refs.Add(-1) == 0 {
		s.list.remove(s)
	}
}

// snapshotList is a circular doubly linked list with a sentinel head.
type snapshotList struct {
	mu    sync.Mutex
	head  snapshotState
	count int
}

func (l *snapshotList) init() {
	l.head.next = &l.head
	l.head.prev = &l.head
}

// create appends a state for the sequence returned by seqFn. seqFn runs
// under the list lock.
func (l *snapshotList) create(seqFn func() uint64) *snapshotState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := &snapshotState{
		seq:       seqFn(),
		createdAt: time.Now().Unix(),
		list:      l,
	}
	s.refs.Store(1)
	s.prev = l.head.prev
	s.next = &l.head
	l.head.prev.next = s
	l.head.prev = s
	l.count++
	return s
}

func (l *snapshotList) remove(s *snapshotState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.prev == nil {
		return
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
	l.count--
}

// oldest returns the oldest live snapshot.
func (l *snapshotList) oldest() (seq uint64, createdAt int64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0, 0, false
	}
	return l.head.next.seq, l.head.next.createdAt, true
}

func (l *snapshotList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// snapshotHandle is the part of a Snapshot a cleanup may touch. It must not
// point back at the Snapshot wrapper.
type snapshotHandle struct {
	db       *DB
	state    *snapshotState
	released atomic.Bool
}

// release gives the reference back. It reports whether this call did so.
func (h *snapshotHandle) release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	h.state.unref()
	return true
}

// Snapshot provides a consistent read view of the database.
// A Snapshot is safe for concurrent use.
type Snapshot struct {
	h *snapshotHandle
}

// wrapSnapshot takes ownership of one reference on state.
func wrapSnapshot(db *DB, state *snapshotState) *Snapshot {
	s := &Snapshot{h: &snapshotHandle{db: db, state: state}}
	runtime.AddCleanup(s, func(h *snapshotHandle) {
		if h.release() {
			h.db.logger.Debugf(logging.NSSnapshot+"released unreachable snapshot at sequence %d", h.state.seq)
		}
	}, s.h)
	return s
}

// GetSnapshot returns a snapshot of the current DB state. The caller should
// call Release when done with it.
func (db *DB) GetSnapshot() *Snapshot {
	state := db.snapshots.create(db.lastSeq.Load)
	return wrapSnapshot(db, state)
}

// ReleaseSnapshot releases s. It is equivalent to s.Release().
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	if s != nil {
		s.Release()
	}
}

// Sequence returns the sequence number at which this snapshot was taken.
func (s *Snapshot) Sequence() uint64 {
	return s.h.state.seq
}

// CreatedAt returns when the snapshot was taken.
func (s *Snapshot) CreatedAt() time.Time {
	return time.Unix(s.h.state.createdAt, 0)
}

// Release releases the snapshot. Calling it more than once is a no-op.
// Reads through a released snapshot return ErrSnapshotReleased.
func (s *Snapshot) Release() {
	s.h.release()
}

// IsReleased reports whether Release has been called.
func (s *Snapshot) IsReleased() bool {
	return s.h.released.Load()
}

// pin returns a private copy of ro with this snapshot attached.
func (s *Snapshot) pin(ro *ReadOptions) *ReadOptions {
	c := ro.Clone()
	c.Snapshot = s
	return c
}

// Get reads key from cf as of the snapshot.
func (s *Snapshot) Get(ro *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error) {
	return s.h.db.Get(s.pin(ro), cf, key)
}

// MultiGet reads keys from the default column family as of the snapshot.
func (s *Snapshot) MultiGet(ro *ReadOptions, keys [][]byte) []Result {
	return s.h.db.MultiGet(s.pin(ro), keys)
}

// MultiGetCF reads (column family, key) pairs as of the snapshot.
func (s *Snapshot) MultiGetCF(ro *ReadOptions, keys []KeyCF) []Result {
	return s.h.db.MultiGetCF(s.pin(ro), keys)
}

// BatchedMultiGetCF reads keys from one column family as of the snapshot.
func (s *Snapshot) BatchedMultiGetCF(ro *ReadOptions, cf ColumnFamilyHandle, keys [][]byte, sortedInput bool) []Result {
	return s.h.db.BatchedMultiGetCF(s.pin(ro), cf, keys, sortedInput)
}

// NewIterator iterates cf as of the snapshot.
func (s *Snapshot) NewIterator(ro *ReadOptions, cf ColumnFamilyHandle) Iterator {
	return s.h.db.NewIterator(s.pin(ro), cf)
}
