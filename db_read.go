package rockyardtxn

// db_read.go implements point reads.
//
// A read resolves the newest version of a key at a read sequence: the
// snapshot's sequence when ReadOptions.Snapshot is set, else the last
// published sequence. Merge operands above the base are folded with the
// column family's merge operator. Transactions layer their buffered writes
// on top with resolveBuffered.

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/aalhour/rockyardtxn/internal/dbformat"
	"github.com/aalhour/rockyardtxn/internal/memtable"
	"github.com/aalhour/rockyardtxn/internal/rowcache"
	"github.com/aalhour/rockyardtxn/internal/wbwi"
)

// readView is validated read options.
type readView struct {
	seq uint64
	// pinned means the caller attached a snapshot.
	pinned bool
	verify bool
	fill   bool
	lower  []byte
	upper  []byte
}

// readView validates ro. A nil ro uses the defaults, with checksum
// verification following the verify_checksums option.
func (db *DB) readView(ro *ReadOptions) (readView, error) {
	if db.closed.Load() {
		return readView{}, ErrDBClosed
	}
	if ro == nil {
		return readView{
			seq:    db.lastSeq.Load(),
			verify: db.verifyChecksums.Load(),
			fill:   true,
		}, nil
	}
	rv := readView{
		verify: ro.VerifyChecksums,
		fill:   ro.FillCache,
		lower:  ro.IterateLowerBound,
		upper:  ro.IterateUpperBound,
	}
	if s := ro.Snapshot; s != nil {
		if s.h == nil {
			return readView{}, newError(CodeInvalidArgument, "invalid snapshot")
		}
		if s.h.released.Load() {
			return readView{}, ErrSnapshotReleased
		}
		if s.h.db != db {
			return readView{}, newError(CodeInvalidArgument, "snapshot belongs to another database")
		}
		rv.seq = s.h.state.seq
		rv.pinned = true
		return rv, nil
	}
	rv.seq = db.lastSeq.Load()
	return rv, nil
}

// Get returns the value of key in cf, or an error matching ErrNotFound.
func (db *DB) Get(ro *ReadOptions, cf ColumnFamilyHandle, key []byte) ([]byte, error) {
	start := time.Now()
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return nil, err
	}
	rv, err := db.readView(ro)
	if err != nil {
		return nil, err
	}
	v, found, err := db.get(cfd, key, rv, !rv.pinned)
	db.recordGet(v, found, err)
	measureTime(db.stats, HistogramDBGet, uint64(time.Since(start).Microseconds()))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return v, nil
}

func (db *DB) recordGet(v []byte, found bool, err error) {
	if db.stats == nil {
		return
	}
	recordTick(db.stats, TickerNumberKeysRead, 1)
	switch {
	case err != nil:
	case found:
		recordTick(db.stats, TickerNumberDBSeekFound, 1)
		recordTick(db.stats, TickerBytesRead, uint64(len(v)))
	default:
		recordTick(db.stats, TickerNumberDBSeekNotFound, 1)
	}
}

// get reads key at rv.seq, serving and filling the row cache when cache is
// set. Only reads of the latest state may use the cache.
func (db *DB) get(cfd *columnFamilyData, key []byte, rv readView, cache bool) ([]byte, bool, error) {
	if !cache || db.rowCache == nil {
		return db.getAt(cfd, key, rv.seq, rv.verify)
	}

	if row, ok := db.rowCache.Get(cfd.id, key); ok && row.Seq <= rv.seq {
		recordTick(db.stats, TickerRowCacheHit, 1)
		if row.Kind == rowcache.Absent {
			return nil, false, nil
		}
		return append([]byte(nil), row.Value...), true, nil
	}
	recordTick(db.stats, TickerRowCacheMiss, 1)
	if !rv.fill {
		return db.getAt(cfd, key, rv.seq, rv.verify)
	}

	// Holding the read lock keeps writers from invalidating between the
	// read and the fill. A write applied after rv.seq was taken makes the
	// result possibly stale, so it is not cached.
	cfd.mu.RLock()
	defer cfd.mu.RUnlock()
	v, found, err := db.getAt(cfd, key, rv.seq, rv.verify)
	if err == nil && rv.seq >= cfd.lastApplied {
		row := rowcache.Row{Seq: rv.seq, Kind: rowcache.Absent}
		if found {
			row.Kind, row.Value = rowcache.Value, v
		}
		db.rowCache.Set(cfd.id, key, row)
	}
	return v, found, err
}

// getAt resolves key against the memtable at seq.
func (db *DB) getAt(cfd *columnFamilyData, key []byte, seq uint64, verify bool) ([]byte, bool, error) {
	l, err := cfd.mem.Get(key, dbformat.SequenceNumber(seq), verify)
	if err != nil {
		return nil, false, db.lookupError(cfd, key, err)
	}
	return db.resolve(cfd, key, l)
}

func (db *DB) lookupError(cfd *columnFamilyData, key []byte, err error) error {
	if errors.Is(err, memtable.ErrChecksumMismatch) {
		recordTick(db.stats, TickerChecksumMismatch, 1)
		return corruption(err, fmt.Sprintf("key %q in column family %q", key, cfd.name))
	}
	return corruption(err, "memtable lookup")
}

// resolve turns a memtable lookup into a value. The returned value is owned
// by the caller.
func (db *DB) resolve(cfd *columnFamilyData, key []byte, l memtable.Lookup) ([]byte, bool, error) {
	var base []byte
	switch l.State {
	case memtable.NotFound:
		return nil, false, nil
	case memtable.Deleted:
		if len(l.Operands) == 0 {
			return nil, false, nil
		}
	case memtable.Found:
		if len(l.Operands) == 0 {
			return append([]byte(nil), l.Value...), true, nil
		}
		base = l.Value
	case memtable.MergeOnly:
	}
	v, err := fullMerge(cfd.mergeOp, db.stats, key, base, reverseOperands(l.Operands))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// resolveBuffered applies a transaction's buffered entry for key over the
// DB state. dbValue is only called when the entry leaves the DB state
// visible, i.e. when only merge operands were buffered.
func (db *DB) resolveBuffered(cfd *columnFamilyData, key []byte, e wbwi.Entry, dbValue func() ([]byte, bool, error)) ([]byte, bool, error) {
	var base []byte
	switch e.Base {
	case wbwi.BaseValue:
		if len(e.Operands) == 0 {
			return append([]byte(nil), e.Value...), true, nil
		}
		base = e.Value
	case wbwi.BaseDeleted:
		if len(e.Operands) == 0 {
			return nil, false, nil
		}
	case wbwi.BaseNone:
		v, found, err := dbValue()
		if err != nil {
			return nil, false, err
		}
		if found {
			base = v
		}
	}
	v, err := fullMerge(cfd.mergeOp, db.stats, key, base, e.Operands)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// getBuffered reads key through a write index, falling back to the DB.
func (db *DB) getBuffered(idx *wbwi.Index, cfd *columnFamilyData, key []byte, rv readView) ([]byte, bool, error) {
	e, ok, err := idx.Get(cfd.id, key)
	if err != nil {
		return nil, false, corruption(err, "transaction write index")
	}
	dbValue := func() ([]byte, bool, error) {
		return db.getAt(cfd, key, rv.seq, rv.verify)
	}
	if !ok {
		return dbValue()
	}
	return db.resolveBuffered(cfd, key, e, dbValue)
}
