package rockyardtxn

// column_family.go implements column family management.
//
// Column families partition the key space of one database. Each has its own
// memtable and merge operator; all share the WAL and the sequence space.
// Creating and dropping a column family is logged, so the set survives a
// reopen.
//
// Reference: RocksDB v10.7.5
//   - db/column_family.h
//   - db/column_family.cc

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/aalhour/rockyardtxn/internal/logging"
	"github.com/aalhour/rockyardtxn/internal/memtable"
	"github.com/aalhour/rockyardtxn/internal/wal"
)

// DefaultColumnFamilyName is the name of the default column family.
const DefaultColumnFamilyName = "default"

// DefaultColumnFamilyID is the ID of the default column family.
const DefaultColumnFamilyID uint32 = 0

// ColumnFamilyHandle is a non-owning reference to a column family.
// Passing nil to any operation selects the default column family.
type ColumnFamilyHandle interface {
	// ID returns the column family ID.
	ID() uint32

	// Name returns the column family name.
	Name() string

	// IsValid returns true if the handle is still valid (not dropped).
	IsValid() bool
}

// columnFamilyData holds the internal data for a column family.
type columnFamilyData struct {
	id      uint32
	name    string
	mem     *memtable.MemTable
	mergeOp MergeOperator
	dropped atomic.Bool
	db      *DB

	// mu orders row cache fills against writes to the column family.
	mu sync.RWMutex
	// lastApplied is the sequence of the newest write applied; guarded by mu.
	lastApplied uint64
}

func newColumnFamilyData(db *DB, id uint32, name string, opts *ColumnFamilyOptions) *columnFamilyData {
	op := db.opts.MergeOperator
	if opts != nil && opts.MergeOperator != nil {
		op = opts.MergeOperator
	}
	return &columnFamilyData{
		id:      id,
		name:    name,
		mem:     memtable.New(),
		mergeOp: op,
		db:      db,
	}
}

// columnFamilyHandle implements ColumnFamilyHandle.
type columnFamilyHandle struct {
	cfd *columnFamilyData
}

// ID returns the column family ID.
func (h *columnFamilyHandle) ID() uint32 {
	return h.cfd.id
}

// Name returns the column family name.
func (h *columnFamilyHandle) Name() string {
	return h.cfd.name
}

// IsValid returns true if the handle is still valid.
func (h *columnFamilyHandle) IsValid() bool {
	return h.cfd != nil && !h.cfd.dropped.Load()
}

// columnFamilySet manages all column families in a database.
type columnFamilySet struct {
	mu       sync.RWMutex
	byName   map[string]*columnFamilyData
	byID     map[uint32]*columnFamilyData
	nextCFID uint32

	defaultCF *columnFamilyData
}

func newColumnFamilySet(db *DB) *columnFamilySet {
	cfs := &columnFamilySet{
		byName:   make(map[string]*columnFamilyData),
		byID:     make(map[uint32]*columnFamilyData),
		nextCFID: DefaultColumnFamilyID + 1,
	}
	cfs.defaultCF = newColumnFamilyData(db, DefaultColumnFamilyID, DefaultColumnFamilyName, nil)
	cfs.byName[DefaultColumnFamilyName] = cfs.defaultCF
	cfs.byID[DefaultColumnFamilyID] = cfs.defaultCF
	return cfs
}

func (cfs *columnFamilySet) getByName(name string) *columnFamilyData {
	cfs.mu.RLock()
	defer cfs.mu.RUnlock()
	return cfs.byName[name]
}

func (cfs *columnFamilySet) getByID(id uint32) *columnFamilyData {
	cfs.mu.RLock()
	defer cfs.mu.RUnlock()
	return cfs.byID[id]
}

// add registers cfd, advancing the next ID past it.
func (cfs *columnFamilySet) add(cfd *columnFamilyData) {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	cfs.byName[cfd.name] = cfd
	cfs.byID[cfd.id] = cfd
	if cfd.id >= cfs.nextCFID {
		cfs.nextCFID = cfd.id + 1
	}
}

func (cfs *columnFamilySet) remove(cfd *columnFamilyData) {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	cfd.dropped.Store(true)
	delete(cfs.byName, cfd.name)
	delete(cfs.byID, cfd.id)
}

func (cfs *columnFamilySet) nextID() uint32 {
	cfs.mu.RLock()
	defer cfs.mu.RUnlock()
	return cfs.nextCFID
}

// all returns every live column family ordered by ID.
func (cfs *columnFamilySet) all() []*columnFamilyData {
	cfs.mu.RLock()
	out := make([]*columnFamilyData, 0, len(cfs.byID))
	for _, cfd := range cfs.byID {
		out = append(out, cfd)
	}
	cfs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// columnFamily resolves a handle. nil selects the default column family.
func (db *DB) columnFamily(cf ColumnFamilyHandle) (*columnFamilyData, error) {
	if cf == nil {
		return db.cfs.defaultCF, nil
	}
	h, ok := cf.(*columnFamilyHandle)
	if !ok || h == nil || h.cfd == nil {
		return nil, newError(CodeInvalidArgument, "invalid column family handle")
	}
	if h.cfd.db != db {
		return nil, newError(CodeInvalidArgument, "column family %q belongs to another database", h.cfd.name)
	}
	if h.cfd.dropped.Load() {
		return nil, ErrColumnFamilyDropped
	}
	return h.cfd, nil
}

// DefaultColumnFamily returns the handle of the default column family.
func (db *DB) DefaultColumnFamily() ColumnFamilyHandle {
	return &columnFamilyHandle{cfd: db.cfs.defaultCF}
}

// GetColumnFamily returns the handle of the named column family.
func (db *DB) GetColumnFamily(name string) (ColumnFamilyHandle, error) {
	cfd := db.cfs.getByName(name)
	if cfd == nil {
		return nil, newError(CodeNotFound, "column family %q", name)
	}
	return &columnFamilyHandle{cfd: cfd}, nil
}

// ListColumnFamilies returns the names of all live column families, ordered
// by ID.
func (db *DB) ListColumnFamilies() []string {
	all := db.cfs.all()
	names := make([]string, len(all))
	for i, cfd := range all {
		names[i] = cfd.name
	}
	return names
}

// CreateColumnFamily creates a column family. opts may be nil.
func (db *DB) CreateColumnFamily(opts *ColumnFamilyOptions, name string) (ColumnFamilyHandle, error) {
	if name == "" {
		return nil, newError(CodeInvalidArgument, "column family name must not be empty")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed.Load() {
		return nil, ErrDBClosed
	}
	if db.cfs.getByName(name) != nil {
		return nil, newError(CodeInvalidArgument, "column family %q already exists", name)
	}

	cfd := newColumnFamilyData(db, db.cfs.nextID(), name, opts)
	if db.log != nil {
		if err := db.logRecord(wal.KindCreateColumnFamily, wal.EncodeColumnFamily(cfd.id, name), true); err != nil {
			return nil, err
		}
	}
	db.cfs.add(cfd)
	db.logger.Infof(logging.NSDB+"created column family %q (id %d)", name, cfd.id)
	return &columnFamilyHandle{cfd: cfd}, nil
}

// DropColumnFamily drops a column family. Its data becomes unreachable and
// every handle to it reports ErrColumnFamilyDropped.
func (db *DB) DropColumnFamily(cf ColumnFamilyHandle) error {
	cfd, err := db.columnFamily(cf)
	if err != nil {
		return err
	}
	if cfd.id == DefaultColumnFamilyID {
		return newError(CodeInvalidArgument, "cannot drop the default column family")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	if db.closed.Load() {
		return ErrDBClosed
	}
	if cfd.dropped.Load() {
		return ErrColumnFamilyDropped
	}
	if db.log != nil {
		if err := db.logRecord(wal.KindDropColumnFamily, wal.EncodeColumnFamily(cfd.id, cfd.name), true); err != nil {
			return err
		}
	}
	db.cfs.remove(cfd)
	db.logger.Infof(logging.NSDB+"dropped column family %q (id %d)", cfd.name, cfd.id)
	return nil
}
