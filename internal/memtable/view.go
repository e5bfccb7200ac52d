package memtable

import (
	"bytes"

	"github.com/google/btree"

	"github.com/aalhour/rockyardtxn/internal/dbformat"
)

// View is a frozen copy of a MemTable. It is not safe for concurrent use;
// each iterator owns its own View.
type View struct {
	tree *btree.BTreeG[*entry]
}

// Get resolves key at read sequence seq within the view.
func (v *View) Get(key []byte, seq dbformat.SequenceNumber, verify bool) (Lookup, error) {
	return get(v.tree, key, seq, verify)
}

// First returns the smallest user key in the view.
func (v *View) First() ([]byte, bool) {
	e, ok := v.tree.Min()
	if !ok {
		return nil, false
	}
	return e.key, true
}

// Last returns the largest user key in the view.
func (v *View) Last() ([]byte, bool) {
	e, ok := v.tree.Max()
	if !ok {
		return nil, false
	}
	return e.key, true
}

// Ceil returns the smallest user key >= key, or > key when exclusive.
func (v *View) Ceil(key []byte, exclusive bool) ([]byte, bool) {
	var out []byte
	found := false
	v.tree.AscendGreaterOrEqual(pivot(key, dbformat.MaxSequenceNumber), func(e *entry) bool {
		if exclusive && bytes.Equal(e.key, key) {
			return true
		}
		out, found = e.key, true
		return false
	})
	return out, found
}

// Floor returns the largest user key <= key, or < key when exclusive.
func (v *View) Floor(key []byte, exclusive bool) ([]byte, bool) {
	// Versions of key sort after (key, MaxSequenceNumber) and before (key, 0).
	start := pivot(key, 0)
	if exclusive {
		start = pivot(key, dbformat.MaxSequenceNumber)
	}
	var out []byte
	found := false
	v.tree.DescendLessOrEqual(start, func(e *entry) bool {
		if exclusive && bytes.Equal(e.key, key) {
			return true
		}
		out, found = e.key, true
		return false
	})
	return out, found
}
