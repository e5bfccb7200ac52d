// Package mempool pools the scratch buffers of the write path.
//
// Every logged write encodes its WAL envelope into a temporary buffer that
// is dead once the log writer has copied it out. Buffers are bucketed by
// capacity so a small write never pins a large buffer.
//
// Reference: RocksDB v10.7.5
//   - memory/arena.h
package mempool

import "sync"

// BucketSizes defines the buffer size buckets.
var BucketSizes = [5]int{
	256,
	1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
}

// Pool manages reusable byte slices of various sizes.
type Pool struct {
	pools [len(BucketSizes)]sync.Pool
}

// NewPool creates a new Pool.
func NewPool() *Pool {
	bp := &Pool{}
	for i := range bp.pools {
		size := BucketSizes[i]
		bp.pools[i].New = func() any {
			buf := make([]byte, 0, size)
			return &buf
		}
	}
	return bp
}

// Get returns an empty slice with capacity of at least minSize.
func (bp *Pool) Get(minSize int) []byte {
	bucket := bucketFor(minSize)
	if bucket < 0 {
		return make([]byte, 0, minSize)
	}
	bufPtr, ok := bp.pools[bucket].Get().(*[]byte)
	if !ok || cap(*bufPtr) < minSize {
		return make([]byte, 0, BucketSizes[bucket])
	}
	return (*bufPtr)[:0]
}

// Put returns buf to the pool. The caller must not use buf afterwards.
// Buffers smaller than the smallest bucket or larger than the largest are
// dropped.
func (bp *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < BucketSizes[0] || c > BucketSizes[len(BucketSizes)-1] {
		return
	}
	// The largest bucket the buffer still satisfies.
	bucket := 0
	for i, size := range BucketSizes {
		if c >= size {
			bucket = i
		}
	}
	buf = buf[:0]
	bp.pools[bucket].Put(&buf)
}

// bucketFor returns the smallest bucket that fits size, or -1.
func bucketFor(size int) int {
	for i, bucketSize := range BucketSizes {
		if size <= bucketSize {
			return i
		}
	}
	return -1
}

// GlobalPool is the default global buffer pool.
var GlobalPool = NewPool()
