// Package rowcache caches resolved point reads of the latest committed state.
//
// Each cached row records the read sequence it was resolved at. The DB only
// populates a row when no write to the column family landed after that
// sequence, and writers invalidate the keys they touch.
package rowcache

import (
	"encoding/binary"

	"github.com/coocood/freecache"
)

// minSize is the smallest cache freecache will allocate.
const minSize = 512 * 1024

// Kind is the cached outcome of a read.
type Kind uint8

const (
	// Value means the key resolved to a value.
	Value Kind = 1
	// Absent means the key resolved to nothing.
	Absent Kind = 2
)

// Row is a cached read result.
type Row struct {
	Seq   uint64
	Kind  Kind
	Value []byte
}

// Cache wraps freecache; it is safe for concurrent use.
type Cache struct {
	fc *freecache.Cache
}

// New creates a cache of at least size bytes.
func New(size int) *Cache {
	return &Cache{fc: freecache.NewCache(max(size, minSize))}
}

func cacheKey(cf uint32, key []byte) []byte {
	out := make([]byte, 4, 4+len(key))
	binary.BigEndian.PutUint32(out, cf)
	return append(out, key...)
}

// Get returns the cached row for key.
func (c *Cache) Get(cf uint32, key []byte) (Row, bool) {
	raw, err := c.fc.Get(cacheKey(cf, key))
	if err != nil || len(raw) < 9 {
		return Row{}, false
	}
	row := Row{
		Seq:  binary.LittleEndian.Uint64(raw[:8]),
		Kind: Kind(raw[8]),
	}
	if row.Kind == Value {
		row.Value = raw[9:]
	}
	return row, true
}

// Set stores row for key. Rows too large for the cache are skipped.
func (c *Cache) Set(cf uint32, key []byte, row Row) {
	raw := make([]byte, 9, 9+len(row.Value))
	binary.LittleEndian.PutUint64(raw, row.Seq)
	raw[8] = byte(row.Kind)
	raw = append(raw, row.Value...)
	// Oversized rows are not cached.
	_ = c.fc.Set(cacheKey(cf, key), raw, 0)
}

// Invalidate drops key.
func (c *Cache) Invalidate(cf uint32, key []byte) {
	c.fc.Del(cacheKey(cf, key))
}

// Clear drops every row.
func (c *Cache) Clear() {
	c.fc.Clear()
}

// HitCount returns the number of cache hits.
func (c *Cache) HitCount() int64 {
	return c.fc.HitCount()
}

// MissCount returns the number of cache misses.
func (c *Cache) MissCount() int64 {
	return c.fc.MissCount()
}

// EntryCount returns the number of cached rows.
func (c *Cache) EntryCount() int64 {
	return c.fc.EntryCount()
}
