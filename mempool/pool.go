package mempool

import (
	"fmt"
	"sync/atomic"

	ring "github.com/randomizedcoder/go-lock-free-ring"
)

// Chunk is one element of a populated pool.
type Chunk struct {
	Index int
	Addr  uint64
	Bytes []byte
}

// Pool is a fixed set of equally sized chunks carved from one region.
//
// Free chunks are kept on a lock-free ring so the data path can return
// chunks from any goroutine while a single owner takes them.
type Pool struct {
	name      string
	count     int
	elemSize  int
	populated bool
	arena     *Region
	free      *ring.ShardedRing
	isFree    []atomic.Bool
	available atomic.Int64
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Count returns the number of chunks the pool holds once populated.
func (p *Pool) Count() int { return p.count }

// ElemSize returns the chunk size in bytes.
func (p *Pool) ElemSize() int { return p.elemSize }

// Populated reports whether PopulateDefault succeeded.
func (p *Pool) Populated() bool { return p.populated }

// Available returns the number of free chunks.
func (p *Pool) Available() int { return int(p.available.Load()) }

// Addr returns the base address of the backing region, or 0 if unpopulated
// or empty.
func (p *Pool) Addr() uint64 {
	if p.arena == nil {
		return 0
	}
	return p.arena.Addr
}

// Get takes a free chunk. Only one goroutine may call Get at a time.
func (p *Pool) Get() (Chunk, error) {
	if p.free == nil {
		return Chunk{}, fmt.Errorf("%w: %s", ErrExhausted, p.name)
	}

	v, ok := p.free.TryRead()
	if !ok {
		return Chunk{}, fmt.Errorf("%w: %s", ErrExhausted, p.name)
	}
	i := v.(int)
	p.isFree[i].Store(false)
	p.available.Add(-1)
	return p.chunk(i), nil
}

// Put returns a chunk taken with Get. Safe for concurrent use.
func (p *Pool) Put(c Chunk) error {
	if p.free == nil || c.Index < 0 || c.Index >= p.count {
		return fmt.Errorf("mempool: chunk %d does not belong to %s", c.Index, p.name)
	}
	if !p.isFree[c.Index].CompareAndSwap(false, true) {
		return fmt.Errorf("%w: chunk %d of %s", ErrAlreadyFree, c.Index, p.name)
	}
	if !p.free.Write(uint64(c.Index), c.Index) {
		p.isFree[c.Index].Store(false)
		return fmt.Errorf("mempool: free list full returning chunk %d to %s", c.Index, p.name)
	}
	p.available.Add(1)
	return nil
}

func (p *Pool) fill(arena *Region) error {
	r, err := ring.NewShardedRing(ringCapacity(p.count), 1)
	if err != nil {
		return fmt.Errorf("mempool: free list for %s: %w", p.name, err)
	}

	isFree := make([]atomic.Bool, p.count)
	for i := 0; i < p.count; i++ {
		isFree[i].Store(true)
		if !r.Write(0, i) {
			return fmt.Errorf("mempool: free list for %s rejected chunk %d", p.name, i)
		}
	}

	p.arena = arena
	p.free = r
	p.isFree = isFree
	p.available.Store(int64(p.count))
	p.populated = true
	return nil
}

func (p *Pool) chunk(i int) Chunk {
	off := i * p.elemSize
	return Chunk{
		Index: i,
		Addr:  p.arena.Addr + uint64(off),
		Bytes: p.arena.Bytes[off : off+p.elemSize : off+p.elemSize],
	}
}

// ringCapacity rounds n up to a power of two with one spare power for the
// ring's own bookkeeping slot.
func ringCapacity(n int) uint64 {
	c := uint64(2)
	for c < 2*uint64(n) {
		c <<= 1
	}
	return c
}
