package mempool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolGetCapacity(t *testing.T) {
	p := NewPool()
	for _, size := range []int{0, 1, 256, 257, 1000, 4096, 60000} {
		buf := p.Get(size)
		require.Empty(t, buf)
		require.GreaterOrEqual(t, cap(buf), size)
		p.Put(buf)
	}
}

func TestPoolReuse(t *testing.T) {
	p := NewPool()
	buf := p.Get(2000)
	buf = append(buf, "scratch"...)
	p.Put(buf)

	again := p.Get(2000)
	require.Empty(t, again, "pooled buffers come back empty")
	require.GreaterOrEqual(t, cap(again), 2000)
}

// A buffer is only handed out for sizes it can hold.
func TestPoolPutGrownBuffer(t *testing.T) {
	p := NewPool()
	odd := make([]byte, 0, 3000)
	p.Put(odd)
	for range 10 {
		buf := p.Get(4000)
		require.GreaterOrEqual(t, cap(buf), 4000)
	}
}

func TestPoolOversized(t *testing.T) {
	p := NewPool()
	buf := p.Get(1 << 20)
	require.GreaterOrEqual(t, cap(buf), 1<<20)
	p.Put(buf)
	p.Put(nil)
	p.Put(make([]byte, 0, 10))
}

func BenchmarkPoolGet(b *testing.B) {
	p := NewPool()
	for b.Loop() {
		buf := p.Get(1024)
		p.Put(buf)
	}
}

func BenchmarkPoolGetParallel(b *testing.B) {
	p := NewPool()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Get(1024)
			p.Put(buf)
		}
	})
}
