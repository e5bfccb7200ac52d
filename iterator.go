package rockyardtxn

// iterator.go implements range iteration.
//
// An iterator merges two ordered key sources: a frozen view of the column
// family's memtable and, for transactions, a frozen copy of the buffered
// writes. It steps from user key to user key, taking the nearest key of
// either source, and resolves each candidate the way a point read would.
// Candidates that resolve to nothing (deleted, or only newer than the read
// sequence) are skipped.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/iterator.h
//   - utilities/write_batch_with_index/write_batch_with_index_internal.h (BaseDeltaIterator)

import (
	"bytes"

	"github.com/aalhour/rockyardtxn/internal/dbformat"
	"github.com/aalhour/rockyardtxn/internal/memtable"
	"github.com/aalhour/rockyardtxn/internal/wbwi"
)

// Iterator iterates over key-value pairs in a column family.
// Iterators are not safe for concurrent use.
type Iterator interface {
	// Valid returns true if the iterator is positioned at a valid entry.
	Valid() bool

	// SeekToFirst positions the iterator at the first key.
	SeekToFirst()

	// SeekToLast positions the iterator at the last key.
	SeekToLast()

	// Seek positions the iterator at the first key >= target.
	Seek(target []byte)

	// SeekForPrev positions the iterator at the last key <= target.
	SeekForPrev(target []byte)

	// Next moves the iterator to the next key.
	Next()

	// Prev moves the iterator to the previous key.
	Prev()

	// Key returns the key at the current position.
	// REQUIRES: Valid()
	Key() []byte

	// Value returns the value at the current position.
	// REQUIRES: Valid()
	Value() []byte

	// Error returns any error that has occurred.
	Error() error

	// Close releases the iterator.
	Close() error
}

// NewIterator returns an iterator over cf. Invalid options produce an
// iterator that is never valid and reports the error.
func (db *DB) NewIterator(ro *ReadOptions, cf ColumnFamilyHandle) Iterator {
	rv, err := db.readView(ro)
	if err != nil {
		return &errorIterator{err: err}
	}
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return &errorIterator{err: err}
	}
	return newBaseDeltaIterator(db, cfd, rv, nil)
}

type baseDeltaIterator struct {
	db    *DB
	cfd   *columnFamilyData
	base  *memtable.View
	delta *wbwi.Index // nil when there are no buffered writes
	rv    readView

	key   []byte
	value []byte
	valid bool
	err   error
}

func newBaseDeltaIterator(db *DB, cfd *columnFamilyData, rv readView, delta *wbwi.Index) *baseDeltaIterator {
	return &baseDeltaIterator{
		db:    db,
		cfd:   cfd,
		base:  cfd.mem.View(),
		delta: delta,
		rv:    rv,
	}
}

// pick returns the smaller (forward) or larger (backward) of two optional keys.
func pick(a []byte, aok bool, b []byte, bok bool, forward bool) ([]byte, bool) {
	switch {
	case !aok:
		return b, bok
	case !bok:
		return a, aok
	}
	c := bytes.Compare(a, b)
	if (forward && c <= 0) || (!forward && c >= 0) {
		return a, true
	}
	return b, true
}

func (it *baseDeltaIterator) ceil(key []byte, exclusive bool) ([]byte, bool) {
	a, aok := it.base.Ceil(key, exclusive)
	var b []byte
	var bok bool
	if it.delta != nil {
		b, bok = it.delta.Ceil(it.cfd.id, key, exclusive)
	}
	return pick(a, aok, b, bok, true)
}

func (it *baseDeltaIterator) floor(key []byte, exclusive bool) ([]byte, bool) {
	a, aok := it.base.Floor(key, exclusive)
	var b []byte
	var bok bool
	if it.delta != nil {
		b, bok = it.delta.Floor(it.cfd.id, key, exclusive)
	}
	return pick(a, aok, b, bok, false)
}

func (it *baseDeltaIterator) first() ([]byte, bool) {
	a, aok := it.base.First()
	var b []byte
	var bok bool
	if it.delta != nil {
		b, bok = it.delta.First(it.cfd.id)
	}
	return pick(a, aok, b, bok, true)
}

func (it *baseDeltaIterator) last() ([]byte, bool) {
	a, aok := it.base.Last()
	var b []byte
	var bok bool
	if it.delta != nil {
		b, bok = it.delta.Last(it.cfd.id)
	}
	return pick(a, aok, b, bok, false)
}

// lookup resolves key through the buffered writes and the frozen view.
func (it *baseDeltaIterator) lookup(key []byte) ([]byte, bool, error) {
	baseValue := func() ([]byte, bool, error) {
		l, err := it.base.Get(key, dbformat.SequenceNumber(it.rv.seq), it.rv.verify)
		if err != nil {
			return nil, false, it.db.lookupError(it.cfd, key, err)
		}
		return it.db.resolve(it.cfd, key, l)
	}
	if it.delta == nil {
		return baseValue()
	}
	e, ok, err := it.delta.Get(it.cfd.id, key)
	if err != nil {
		return nil, false, corruption(err, "transaction write index")
	}
	if !ok {
		return baseValue()
	}
	return it.db.resolveBuffered(it.cfd, key, e, baseValue)
}

func (it *baseDeltaIterator) inBounds(key []byte) bool {
	if it.rv.upper != nil && bytes.Compare(key, it.rv.upper) >= 0 {
		return false
	}
	if it.rv.lower != nil && bytes.Compare(key, it.rv.lower) < 0 {
		return false
	}
	return true
}

// settle positions on the first resolvable key starting at candidate,
// moving in the given direction.
func (it *baseDeltaIterator) settle(candidate []byte, ok bool, forward bool) {
	it.valid = false
	it.key, it.value = nil, nil
	if it.err != nil {
		return
	}
	for ok && it.inBounds(candidate) {
		v, found, err := it.lookup(candidate)
		if err != nil {
			it.err = err
			return
		}
		if found {
			it.key, it.value, it.valid = candidate, v, true
			return
		}
		if forward {
			candidate, ok = it.ceil(candidate, true)
		} else {
			candidate, ok = it.floor(candidate, true)
		}
	}
}

func (it *baseDeltaIterator) Valid() bool {
	return it.valid
}

func (it *baseDeltaIterator) SeekToFirst() {
	recordTick(it.db.stats, TickerNumberSeek, 1)
	if it.rv.lower != nil {
		k, ok := it.ceil(it.rv.lower, false)
		it.settle(k, ok, true)
		return
	}
	k, ok := it.first()
	it.settle(k, ok, true)
}

func (it *baseDeltaIterator) SeekToLast() {
	recordTick(it.db.stats, TickerNumberSeek, 1)
	if it.rv.upper != nil {
		k, ok := it.floor(it.rv.upper, true)
		it.settle(k, ok, false)
		return
	}
	k, ok := it.last()
	it.settle(k, ok, false)
}

func (it *baseDeltaIterator) Seek(target []byte) {
	recordTick(it.db.stats, TickerNumberSeek, 1)
	if it.rv.lower != nil && bytes.Compare(target, it.rv.lower) < 0 {
		target = it.rv.lower
	}
	k, ok := it.ceil(target, false)
	it.settle(k, ok, true)
}

func (it *baseDeltaIterator) SeekForPrev(target []byte) {
	recordTick(it.db.stats, TickerNumberSeek, 1)
	if it.rv.upper != nil && bytes.Compare(target, it.rv.upper) >= 0 {
		k, ok := it.floor(it.rv.upper, true)
		it.settle(k, ok, false)
		return
	}
	k, ok := it.floor(target, false)
	it.settle(k, ok, false)
}

func (it *baseDeltaIterator) Next() {
	if !it.valid {
		return
	}
	recordTick(it.db.stats, TickerNumberSeekNext, 1)
	k, ok := it.ceil(it.key, true)
	it.settle(k, ok, true)
}

func (it *baseDeltaIterator) Prev() {
	if !it.valid {
		return
	}
	recordTick(it.db.stats, TickerNumberSeekPrev, 1)
	k, ok := it.floor(it.key, true)
	it.settle(k, ok, false)
}

func (it *baseDeltaIterator) Key() []byte {
	return it.key
}

func (it *baseDeltaIterator) Value() []byte {
	return it.value
}

func (it *baseDeltaIterator) Error() error {
	return it.err
}

func (it *baseDeltaIterator) Close() error {
	it.valid = false
	it.base, it.delta = nil, nil
	return nil
}

// errorIterator is never valid and reports a fixed error.
type errorIterator struct {
	err error
}

func (it *errorIterator) Valid() bool { return false }
func (it *errorIterator) SeekToFirst() {}
func (it *errorIterator) SeekToLast() {}
func (it *errorIterator) Seek([]byte) {}
func (it *errorIterator) SeekForPrev([]byte) {}
func (it *errorIterator) Next() {}
func (it *errorIterator) Prev() {}
func (it *errorIterator) Key() []byte { return nil }
func (it *errorIterator) Value() []byte { return nil }
func (it *errorIterator) Error() error { return it.err }
func (it *errorIterator) Close() error { return nil }
