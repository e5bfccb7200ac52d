// Package memtable implements the multi-version in-memory table that holds
// every committed write of a column family.
//
// Entries are kept in a google/btree ordered by user key ascending, then by
// sequence number descending, so the versions of a key visible at a read
// sequence are a contiguous run starting at (key, readSeq). Each entry
// carries an XXH3 checksum of its value that readers may verify.
package memtable

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/aalhour/rockyardtxn/internal/checksum"
	"github.com/aalhour/rockyardtxn/internal/dbformat"
)

// ErrChecksumMismatch is returned when a verified entry's value does not
// match its stored checksum.
var ErrChecksumMismatch = errors.New("memtable: value checksum mismatch")

// btreeDegree is the fan-out of the underlying B-tree.
const btreeDegree = 32

// entryOverhead approximates per-entry bookkeeping for memory accounting.
const entryOverhead = 64

type entry struct {
	key   []byte
	seq   dbformat.SequenceNumber
	kind  dbformat.ValueType
	value []byte
	sum   uint64
}

func (e *entry) valid() bool {
	return checksum.Sum64(e.value) == e.sum
}

func entryLess(a, b *entry) bool {
	if c := bytes.Compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.seq > b.seq
}

// pivot builds a search key positioned before every version of key with a
// sequence number <= seq.
func pivot(key []byte, seq dbformat.SequenceNumber) *entry {
	return &entry{key: key, seq: seq}
}

// State is the outcome of resolving a key.
type State uint8

const (
	// NotFound means no version of the key is visible.
	NotFound State = iota
	// Found means a base value was reached (possibly under merge operands).
	Found
	// Deleted means a tombstone was reached (possibly under merge operands).
	Deleted
	// MergeOnly means only merge operands are visible, with no base below them.
	MergeOnly
)

func (s State) String() string {
	switch s {
	case NotFound:
		return "NotFound"
	case Found:
		return "Found"
	case Deleted:
		return "Deleted"
	case MergeOnly:
		return "MergeOnly"
	default:
		return "Unknown"
	}
}

// Lookup is the resolved view of one key at a read sequence.
//
// Value and Operands alias memtable memory and must not be modified.
type Lookup struct {
	State State
	// Value is the base value when State is Found.
	Value []byte
	// Operands are merge operands above the base, newest first.
	Operands [][]byte
	// Seq is the sequence number of the newest visible version.
	Seq dbformat.SequenceNumber
}

// resolver folds the visible versions of one key, newest first.
type resolver struct {
	res     Lookup
	started bool
	done    bool
	err     error
}

func (r *resolver) add(e *entry, verify bool) {
	if !r.started {
		r.res.Seq = e.seq
		r.started = true
	}
	if verify && !e.valid() {
		r.err = ErrChecksumMismatch
		r.done = true
		return
	}
	switch e.kind {
	case dbformat.TypeValue:
		r.res.State = Found
		r.res.Value = e.value
		r.done = true
	case dbformat.TypeDeletion:
		r.res.State = Deleted
		r.done = true
	case dbformat.TypeMerge:
		r.res.Operands = append(r.res.Operands, e.value)
	}
}

func (r *resolver) finish() (Lookup, error) {
	if r.err != nil {
		return Lookup{}, r.err
	}
	if !r.done {
		if len(r.res.Operands) > 0 {
			r.res.State = MergeOnly
		} else {
			r.res.State = NotFound
		}
	}
	return r.res, nil
}

// MemTable is safe for concurrent use.
type MemTable struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*entry]

	memoryUsage atomic.Int64
	numEntries  atomic.Int64
	numDeletes  atomic.Int64
}

// New creates an empty MemTable.
func New() *MemTable {
	return &MemTable{tree: btree.NewG(btreeDegree, entryLess)}
}

// Add inserts a version of key. key and value are copied.
func (mt *MemTable) Add(seq dbformat.SequenceNumber, kind dbformat.ValueType, key, value []byte) {
	e := &entry{
		key:   append([]byte(nil), key...),
		seq:   seq,
		kind:  kind,
		value: append([]byte(nil), value...),
	}
	e.sum = checksum.Sum64(e.value)

	mt.mu.Lock()
	mt.tree.ReplaceOrInsert(e)
	mt.mu.Unlock()

	mt.memoryUsage.Add(int64(len(key) + len(value) + entryOverhead))
	mt.numEntries.Add(1)
	if kind == dbformat.TypeDeletion {
		mt.numDeletes.Add(1)
	}
}

// LatestSeq returns the sequence number of the newest version of key.
func (mt *MemTable) LatestSeq(key []byte) (dbformat.SequenceNumber, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	var seq dbformat.SequenceNumber
	found := false
	mt.tree.AscendGreaterOrEqual(pivot(key, dbformat.MaxSequenceNumber), func(e *entry) bool {
		if bytes.Equal(e.key, key) {
			seq, found = e.seq, true
		}
		return false
	})
	return seq, found
}

// Get resolves key at read sequence seq. With verify, a checksum mismatch on
// any consulted version returns ErrChecksumMismatch.
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber, verify bool) (Lookup, error) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return get(mt.tree, key, seq, verify)
}

func get(tree *btree.BTreeG[*entry], key []byte, seq dbformat.SequenceNumber, verify bool) (Lookup, error) {
	var r resolver
	tree.AscendGreaterOrEqual(pivot(key, seq), func(e *entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		r.add(e, verify)
		return !r.done
	})
	return r.finish()
}

// MultiGetSorted resolves keys, which the caller guarantees are in ascending
// order, with a single ordered walk of the table. Unsorted input does not
// panic but keys out of order may be reported as NotFound.
func (mt *MemTable) MultiGetSorted(keys [][]byte, seq dbformat.SequenceNumber, verify bool) ([]Lookup, []error) {
	results := make([]Lookup, len(keys))
	errs := make([]error, len(keys))
	if len(keys) == 0 {
		return results, errs
	}

	rs := make([]resolver, len(keys))
	i := 0
	// finalize closes key i and copies its result into any duplicates
	// that immediately follow it.
	finalize := func() {
		results[i], errs[i] = rs[i].finish()
		for i+1 < len(keys) && bytes.Equal(keys[i+1], keys[i]) {
			results[i+1], errs[i+1] = results[i], errs[i]
			i++
		}
		i++
	}

	mt.mu.RLock()
	mt.tree.AscendGreaterOrEqual(pivot(keys[0], seq), func(e *entry) bool {
		for i < len(keys) {
			c := bytes.Compare(e.key, keys[i])
			if c < 0 {
				return true
			}
			if c > 0 {
				finalize()
				continue
			}
			if e.seq <= seq && !rs[i].done {
				rs[i].add(e, verify)
			}
			return true
		}
		return false
	})
	mt.mu.RUnlock()

	for i < len(keys) {
		finalize()
	}
	return results, errs
}

// View returns an immutable point-in-time copy of the table for iteration.
// Later writes to the MemTable are not visible through it.
func (mt *MemTable) View() *View {
	// Clone mutates the copy-on-write context of the source tree.
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return &View{tree: mt.tree.Clone()}
}

// ApproximateMemoryUsage returns the approximate memory usage in bytes.
func (mt *MemTable) ApproximateMemoryUsage() int64 {
	return mt.memoryUsage.Load()
}

// NumEntries returns the number of versions stored.
func (mt *MemTable) NumEntries() int64 {
	return mt.numEntries.Load()
}

// NumDeletes returns the number of tombstones stored.
func (mt *MemTable) NumDeletes() int64 {
	return mt.numDeletes.Load()
}

// CorruptForTesting flips a bit in the newest version of key's value while
// keeping its checksum, so verified reads of the key fail. It reports whether
// a non-empty version was found.
func (mt *MemTable) CorruptForTesting(key []byte) bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	var target *entry
	mt.tree.AscendGreaterOrEqual(pivot(key, dbformat.MaxSequenceNumber), func(e *entry) bool {
		if bytes.Equal(e.key, key) {
			target = e
		}
		return false
	})
	if target == nil || len(target.value) == 0 {
		return false
	}
	bad := *target
	bad.value = append([]byte(nil), target.value...)
	bad.value[0] ^= 0x01
	mt.tree.ReplaceOrInsert(&bad)
	return true
}
