// Package wbwi indexes a transaction's buffered writes so reads can see them.
//
// The index maps (column family, user key) to the net effect of every write
// buffered for that key: a base (value, tombstone, or none) plus the merge
// operands stacked on top of it. It is backed by goleveldb's memdb, keyed by
// a 4-byte big-endian column family ID followed by the user key, so keys of
// one column family form a contiguous, bytewise-ordered range.
//
// The write batch stays the source of truth; after a savepoint rollback the
// index is rebuilt from the truncated batch.
package wbwi

import (
	"encoding/binary"
	"errors"

	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/rockyardtxn/internal/batch"
	"github.com/aalhour/rockyardtxn/internal/encoding"
)

// ErrCorruptEntry indicates an index value that could not be decoded.
var ErrCorruptEntry = errors.New("wbwi: corrupt index entry")

const cfPrefixLen = 4

const initialCapacity = 4 << 10

// Base is the bottom of a buffered entry.
type Base uint8

const (
	// BaseNone means only merge operands were buffered; the DB value below
	// them still matters.
	BaseNone Base = iota
	// BaseValue means a Put was buffered.
	BaseValue
	// BaseDeleted means a Delete was buffered.
	BaseDeleted
)

// Entry is the net buffered effect on one key.
type Entry struct {
	Base  Base
	Value []byte
	// Operands are merge operands buffered above Base, oldest first.
	Operands [][]byte
}

// Index is safe for concurrent use.
type Index struct {
	db *memdb.DB
}

// New creates an empty index.
func New() *Index {
	return &Index{db: memdb.New(comparer.DefaultComparer, initialCapacity)}
}

// Build creates an index holding every record of b.
func Build(b *batch.WriteBatch) (*Index, error) {
	idx := New()
	if err := b.Iterate(idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Rebuild replaces the index contents with the records of b.
func (idx *Index) Rebuild(b *batch.WriteBatch) error {
	idx.db.Reset()
	return b.Iterate(idx)
}

// Reset drops every entry.
func (idx *Index) Reset() {
	idx.db.Reset()
}

// Len returns the number of distinct keys buffered.
func (idx *Index) Len() int {
	return idx.db.Len()
}

// Put records a buffered value. It implements batch.Handler.
func (idx *Index) Put(cfID uint32, key, value []byte) error {
	return idx.store(cfID, key, Entry{Base: BaseValue, Value: value})
}

// Delete records a buffered tombstone. It implements batch.Handler.
func (idx *Index) Delete(cfID uint32, key []byte) error {
	return idx.store(cfID, key, Entry{Base: BaseDeleted})
}

// Merge stacks a merge operand on the key's entry. It implements batch.Handler.
func (idx *Index) Merge(cfID uint32, key, operand []byte) error {
	e, ok, err := idx.Get(cfID, key)
	if err != nil {
		return err
	}
	if !ok {
		e = Entry{Base: BaseNone}
	}
	e.Operands = append(e.Operands, operand)
	return idx.store(cfID, key, e)
}

// Get returns the buffered entry for key.
func (idx *Index) Get(cfID uint32, key []byte) (Entry, bool, error) {
	raw, err := idx.db.Get(indexKey(cfID, key))
	if errors.Is(err, memdb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (idx *Index) store(cfID uint32, key []byte, e Entry) error {
	return idx.db.Put(indexKey(cfID, key), encodeEntry(e))
}

// First returns the smallest buffered key of the column family.
func (idx *Index) First(cfID uint32) ([]byte, bool) {
	it := idx.db.NewIterator(cfRange(cfID))
	defer it.Release()
	if !it.First() {
		return nil, false
	}
	return userKey(it.Key()), true
}

// Last returns the largest buffered key of the column family.
func (idx *Index) Last(cfID uint32) ([]byte, bool) {
	it := idx.db.NewIterator(cfRange(cfID))
	defer it.Release()
	if !it.Last() {
		return nil, false
	}
	return userKey(it.Key()), true
}

// Ceil returns the smallest buffered key >= key, or > key when exclusive.
func (idx *Index) Ceil(cfID uint32, key []byte, exclusive bool) ([]byte, bool) {
	it := idx.db.NewIterator(cfRange(cfID))
	defer it.Release()
	target := indexKey(cfID, key)
	if !it.Seek(target) {
		return nil, false
	}
	if exclusive && comparer.DefaultComparer.Compare(it.Key(), target) == 0 {
		if !it.Next() {
			return nil, false
		}
	}
	return userKey(it.Key()), true
}

// Floor returns the largest buffered key <= key, or < key when exclusive.
func (idx *Index) Floor(cfID uint32, key []byte, exclusive bool) ([]byte, bool) {
	it := idx.db.NewIterator(cfRange(cfID))
	defer it.Release()
	target := indexKey(cfID, key)
	ok := it.Seek(target)
	switch {
	case !ok:
		ok = it.Last()
	case comparer.DefaultComparer.Compare(it.Key(), target) > 0 ||
		(exclusive && comparer.DefaultComparer.Compare(it.Key(), target) == 0):
		ok = it.Prev()
	}
	if !ok {
		return nil, false
	}
	return userKey(it.Key()), true
}

func indexKey(cfID uint32, key []byte) []byte {
	out := make([]byte, cfPrefixLen, cfPrefixLen+len(key))
	binary.BigEndian.PutUint32(out, cfID)
	return append(out, key...)
}

func cfRange(cfID uint32) *util.Range {
	var prefix [cfPrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], cfID)
	return util.BytesPrefix(prefix[:])
}

func userKey(k []byte) []byte {
	return append([]byte(nil), k[cfPrefixLen:]...)
}

// Entry encoding:
//
//	base (1B) | varint32 operand count | [length-prefixed value] | length-prefixed operands...
func encodeEntry(e Entry) []byte {
	out := []byte{byte(e.Base)}
	out = encoding.AppendVarint32(out, uint32(len(e.Operands)))
	if e.Base == BaseValue {
		out = encoding.AppendLengthPrefixedSlice(out, e.Value)
	}
	for _, op := range e.Operands {
		out = encoding.AppendLengthPrefixedSlice(out, op)
	}
	return out
}

func decodeEntry(raw []byte) (Entry, error) {
	if len(raw) < 2 {
		return Entry{}, ErrCorruptEntry
	}
	e := Entry{Base: Base(raw[0])}
	if e.Base > BaseDeleted {
		return Entry{}, ErrCorruptEntry
	}
	n, used, err := encoding.DecodeVarint32(raw[1:])
	if err != nil {
		return Entry{}, ErrCorruptEntry
	}
	rest := raw[1+used:]
	if e.Base == BaseValue {
		v, used, err := encoding.DecodeLengthPrefixedSlice(rest)
		if err != nil {
			return Entry{}, ErrCorruptEntry
		}
		e.Value = append([]byte(nil), v...)
		rest = rest[used:]
	}
	if n > 0 {
		e.Operands = make([][]byte, 0, n)
	}
	for range n {
		op, used, err := encoding.DecodeLengthPrefixedSlice(rest)
		if err != nil {
			return Entry{}, ErrCorruptEntry
		}
		e.Operands = append(e.Operands, append([]byte(nil), op...))
		rest = rest[used:]
	}
	return e, nil
}
