// Package txn holds the bookkeeping behind optimistic transactions: the
// per-transaction set of tracked keys, the DB-wide conflict table that
// records exclusive get-for-update commits, and the registry of active
// transactions used to prune it.
package txn

import (
	"sort"
)

// Flags describe why a key is tracked.
type Flags uint8

const (
	// FlagRead marks a key read with a plain Get. It is validated only when
	// the transaction validates reads.
	FlagRead Flags = 1 << iota
	// FlagValidate marks a key written or read for update. It is always
	// validated at commit.
	FlagValidate
	// FlagExclusive marks a key read for update exclusively. A successful
	// commit stamps it in the conflict table.
	FlagExclusive
)

// Key identifies a tracked key.
type Key struct {
	CF  uint32
	Key string
}

// Info is the tracking state of one key.
type Info struct {
	// Seq is the sequence number the transaction's view of the key was
	// taken at. Any write to the key after Seq is a conflict.
	Seq   uint64
	Flags Flags
}

type undoRecord struct {
	key     Key
	existed bool
	prev    Info
}

// Tracker records the keys a transaction depends on. It is not safe for
// concurrent use; the owning transaction serializes access.
type Tracker struct {
	keys       map[Key]Info
	undo       []undoRecord
	savepoints []int
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{keys: make(map[Key]Info)}
}

// Track records key at seq with flags. An already tracked key keeps the
// older of the two sequence numbers and accumulates flags.
func (t *Tracker) Track(cf uint32, key []byte, seq uint64, flags Flags) {
	k := Key{CF: cf, Key: string(key)}
	prev, existed := t.keys[k]
	next := Info{Seq: seq, Flags: flags}
	if existed {
		next.Seq = min(prev.Seq, seq)
		next.Flags |= prev.Flags
		if next == prev {
			return
		}
	}
	if len(t.savepoints) > 0 {
		t.undo = append(t.undo, undoRecord{key: k, existed: existed, prev: prev})
	}
	t.keys[k] = next
}

// Lookup returns the tracking state of key.
func (t *Tracker) Lookup(cf uint32, key []byte) (Info, bool) {
	info, ok := t.keys[Key{CF: cf, Key: string(key)}]
	return info, ok
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	return len(t.keys)
}

// SetSavepoint marks the current tracking state.
func (t *Tracker) SetSavepoint() {
	t.savepoints = append(t.savepoints, len(t.undo))
}

// RollbackToSavepoint restores the state at the most recent savepoint and
// removes it. It reports false when no savepoint is set.
func (t *Tracker) RollbackToSavepoint() bool {
	n := len(t.savepoints)
	if n == 0 {
		return false
	}
	mark := t.savepoints[n-1]
	t.savepoints = t.savepoints[:n-1]
	for i := len(t.undo) - 1; i >= mark; i-- {
		u := t.undo[i]
		if u.existed {
			t.keys[u.key] = u.prev
		} else {
			delete(t.keys, u.key)
		}
	}
	t.undo = t.undo[:mark]
	if len(t.savepoints) == 0 {
		t.undo = t.undo[:0]
	}
	return true
}

// PopSavepoint removes the most recent savepoint without undoing anything.
// It reports false when no savepoint is set.
func (t *Tracker) PopSavepoint() bool {
	n := len(t.savepoints)
	if n == 0 {
		return false
	}
	t.savepoints = t.savepoints[:n-1]
	if len(t.savepoints) == 0 {
		t.undo = t.undo[:0]
	}
	return true
}

// Clear drops every tracked key and savepoint.
func (t *Tracker) Clear() {
	clear(t.keys)
	t.undo = t.undo[:0]
	t.savepoints = t.savepoints[:0]
}

// LatestFunc reports the sequence number of the newest committed change to
// a key, or 0 when it was never written.
type LatestFunc func(cf uint32, key []byte) uint64

// Validate returns the first key, in key order, changed after the sequence
// it was tracked at. Keys tracked only by plain reads are checked when
// validateReads is set.
func (t *Tracker) Validate(validateReads bool, latest LatestFunc) (Key, bool) {
	for _, k := range t.sortedKeys() {
		info := t.keys[k]
		if info.Flags&(FlagValidate|FlagExclusive) == 0 && !validateReads {
			continue
		}
		if latest(k.CF, []byte(k.Key)) > info.Seq {
			return k, true
		}
	}
	return Key{}, false
}

// Exclusive returns the keys read for update exclusively, in key order.
func (t *Tracker) Exclusive() []Key {
	var out []Key
	for _, k := range t.sortedKeys() {
		if t.keys[k].Flags&FlagExclusive != 0 {
			out = append(out, k)
		}
	}
	return out
}

func (t *Tracker) sortedKeys() []Key {
	keys := make([]Key, 0, len(t.keys))
	for k := range t.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CF != keys[j].CF {
			return keys[i].CF < keys[j].CF
		}
		return keys[i].Key < keys[j].Key
	})
	return keys
}
