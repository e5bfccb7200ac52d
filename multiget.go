package rockyardtxn

// multiget.go implements batched point reads.
//
// Every multi-get returns one Result per input key, in input order. A key
// that fails (for example a checksum mismatch) carries its own error and
// does not affect the others. When the read options themselves are invalid
// (released or foreign snapshot, closed DB) every slot carries that same
// error and nothing is read.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/db.h (MultiGet, batched MultiGet with sorted_input)

import (
	"time"

	"github.com/aalhour/rockyardtxn/internal/dbformat"
)

// Result is the outcome of reading one key.
type Result struct {
	// Value is set when Found.
	Value []byte
	// Found is false when the key is absent or Err is set.
	Found bool
	// Err is the per-key error, if any.
	Err error
}

// KeyCF names a key in a column family. A nil CF selects the default one.
type KeyCF struct {
	CF  ColumnFamilyHandle
	Key []byte
}

// fillError returns n results that all carry err.
func fillError(n int, err error) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i].Err = err
	}
	return out
}

func defaultCFKeys(keys [][]byte) []KeyCF {
	out := make([]KeyCF, len(keys))
	for i, k := range keys {
		out[i].Key = k
	}
	return out
}

// MultiGet reads keys from the default column family.
func (db *DB) MultiGet(ro *ReadOptions, keys [][]byte) []Result {
	return db.MultiGetCF(ro, defaultCFKeys(keys))
}

// MultiGetCF reads (column family, key) pairs. All keys are read at the
// same sequence number.
func (db *DB) MultiGetCF(ro *ReadOptions, keys []KeyCF) []Result {
	if len(keys) == 0 {
		return []Result{}
	}
	rv, err := db.readView(ro)
	if err != nil {
		return fillError(len(keys), err)
	}

	start := time.Now()
	out := make([]Result, len(keys))
	for i, k := range keys {
		cfd, err := db.columnFamily(k.CF)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Value, out[i].Found, out[i].Err = db.get(cfd, k.Key, rv, !rv.pinned)
	}
	db.recordMultiGet(out, start)
	return out
}

// BatchedMultiGetCF reads keys from one column family in a single pass.
//
// With sortedInput the caller guarantees keys are in ascending bytewise
// order, and the memtable is walked once. Unsorted keys with sortedInput set
// do not crash, but keys out of order may be reported as not found. An
// invalid column family fails every slot, like invalid options.
func (db *DB) BatchedMultiGetCF(ro *ReadOptions, cf ColumnFamilyHandle, keys [][]byte, sortedInput bool) []Result {
	if len(keys) == 0 {
		return []Result{}
	}
	rv, err := db.readView(ro)
	if err != nil {
		return fillError(len(keys), err)
	}
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return fillError(len(keys), err)
	}

	start := time.Now()
	out := db.batchedGet(cfd, keys, rv, sortedInput)
	db.recordMultiGet(out, start)
	return out
}

// batchedGet reads keys from cfd at rv.seq.
func (db *DB) batchedGet(cfd *columnFamilyData, keys [][]byte, rv readView, sorted bool) []Result {
	out := make([]Result, len(keys))
	if !sorted {
		for i, k := range keys {
			out[i].Value, out[i].Found, out[i].Err = db.get(cfd, k, rv, !rv.pinned)
		}
		return out
	}

	lookups, errs := cfd.mem.MultiGetSorted(keys, dbformat.SequenceNumber(rv.seq), rv.verify)
	for i, k := range keys {
		if errs[i] != nil {
			out[i].Err = db.lookupError(cfd, k, errs[i])
			continue
		}
		out[i].Value, out[i].Found, out[i].Err = db.resolve(cfd, k, lookups[i])
	}
	return out
}

func (db *DB) recordMultiGet(out []Result, start time.Time) {
	if db.stats == nil {
		return
	}
	var found, bytes uint64
	for _, r := range out {
		if r.Found {
			found++
			bytes += uint64(len(r.Value))
		}
	}
	recordTick(db.stats, TickerNumberMultiGetCalls, 1)
	recordTick(db.stats, TickerNumberMultiGetKeysRead, uint64(len(out)))
	recordTick(db.stats, TickerNumberMultiGetKeysFound, found)
	recordTick(db.stats, TickerNumberMultiGetBytesRead, bytes)
	measureTime(db.stats, HistogramBytesPerMultiGet, bytes)
	measureTime(db.stats, HistogramDBMultiGet, uint64(time.Since(start).Microseconds()))
}
