package txn

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/zeebo/xxh3"
)

// ConflictTable remembers the commit sequence of keys that committed
// transactions read for update exclusively. Keys are stored by XXH3 hash, so
// a collision can only produce a spurious conflict, never a missed one.
type ConflictTable struct {
	mu     sync.Mutex
	stamps map[uint64]uint64
}

// NewConflictTable creates an empty table.
func NewConflictTable() *ConflictTable {
	return &ConflictTable{stamps: make(map[uint64]uint64)}
}

func hashKey(cf uint32, key []byte) uint64 {
	h := xxh3.New()
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], cf)
	_, _ = h.Write(prefix[:])
	_, _ = h.Write(key)
	return h.Sum64()
}

// Stamp records that key was claimed by a commit at seq.
func (c *ConflictTable) Stamp(cf uint32, key []byte, seq uint64) {
	h := hashKey(cf, key)
	c.mu.Lock()
	if seq > c.stamps[h] {
		c.stamps[h] = seq
	}
	c.mu.Unlock()
}

// Latest returns the newest stamp for key, or 0.
func (c *ConflictTable) Latest(cf uint32, key []byte) uint64 {
	h := hashKey(cf, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stamps[h]
}

// Prune drops stamps no active transaction can conflict with: those at or
// below the oldest sequence any active transaction tracks from.
func (c *ConflictTable) Prune(oldestActive uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for h, seq := range c.stamps {
		if seq <= oldestActive {
			delete(c.stamps, h)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of stamps held.
func (c *ConflictTable) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stamps)
}

// Registry tracks active transactions and the oldest sequence each one may
// have tracked a key at.
type Registry struct {
	mu     sync.Mutex
	active map[uint64]*span
}

type span struct {
	start uint64
	busy  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[uint64]*span)}
}

// Add registers transaction id.
func (r *Registry) Add(id uint64) {
	r.mu.Lock()
	r.active[id] = &span{}
	r.mu.Unlock()
}

// Begin records that id is about to track keys at the sequence returned by
// seqFn and returns it. seqFn runs under the registry lock, so a concurrent
// Oldest either sees the new start or ran before seqFn read the sequence.
// The earliest start since the last Reset is kept.
func (r *Registry) Begin(id uint64, seqFn func() uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := seqFn()
	if s, ok := r.active[id]; ok && (!s.busy || seq < s.start) {
		s.start, s.busy = seq, true
	}
	return seq
}

// Reset marks id idle after a commit or rollback.
func (r *Registry) Reset(id uint64) {
	r.mu.Lock()
	if s, ok := r.active[id]; ok {
		s.start, s.busy = 0, false
	}
	r.mu.Unlock()
}

// Remove unregisters id.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Len returns the number of registered transactions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Oldest returns the smallest start sequence among busy transactions, or
// fallback when none is tracking anything.
func (r *Registry) Oldest(fallback uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	oldest := uint64(math.MaxUint64)
	for _, s := range r.active {
		if s.busy && s.start < oldest {
			oldest = s.start
		}
	}
	if oldest == math.MaxUint64 {
		return fallback
	}
	return oldest
}
