// Package mempool provides the memory collaborator for timer rings: zeroed
// regions with stable bus addresses for bucket arrays, and fixed-size chunk
// pools for timer storage.
//
// Addresses handed out by Heap are synthetic I/O virtual addresses. They are
// unique and aligned for the lifetime of the Heap, which is all the device
// programming path needs.
package mempool

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoMemory indicates the heap limit would be exceeded.
	ErrNoMemory = errors.New("mempool: out of memory")

	// ErrPoolExists indicates a pool with the same name is already registered.
	ErrPoolExists = errors.New("mempool: pool already exists")

	// ErrPopulated indicates PopulateDefault was called twice on a pool.
	ErrPopulated = errors.New("mempool: pool already populated")

	// ErrExhausted indicates a pool has no free chunks.
	ErrExhausted = errors.New("mempool: pool exhausted")

	// ErrAlreadyFree indicates a chunk was returned while already free.
	ErrAlreadyFree = errors.New("mempool: chunk already free")
)

const (
	// Alignment is the address alignment of every region.
	Alignment = 128

	// MaxRegion is the largest single region a Heap hands out.
	MaxRegion uint64 = 1 << 34

	// iovaBase is the first address handed out by a Heap.
	iovaBase uint64 = 0x1_0000_0000
)

// Region is a zeroed, contiguous allocation.
type Region struct {
	Tag   string
	Addr  uint64
	Bytes []byte
}

// Size returns the region length in bytes.
func (r *Region) Size() int {
	return len(r.Bytes)
}

// Heap allocates regions and chunk pools from process memory.
// A limit of zero means unlimited. Safe for concurrent use.
type Heap struct {
	mu    sync.Mutex
	limit int
	used  int
	next  uint64
	pools map[string]*Pool
}

// NewHeap creates a Heap that refuses to hand out more than limit bytes.
func NewHeap(limit int) *Heap {
	return &Heap{
		limit: limit,
		next:  iovaBase,
		pools: make(map[string]*Pool),
	}
}

// Alloc returns a zeroed region of size bytes.
func (h *Heap) Alloc(tag string, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mempool: invalid size %d for %s", size, tag)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if uint64(size) > MaxRegion {
		return nil, fmt.Errorf("%w: %s needs %d bytes (max region %d)", ErrNoMemory, tag, size, MaxRegion)
	}
	if h.limit > 0 && h.used+size > h.limit {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use",
			ErrNoMemory, tag, size, h.used, h.limit)
	}

	r := &Region{
		Tag:   tag,
		Addr:  h.next,
		Bytes: make([]byte, size),
	}
	h.used += size
	h.next += alignUp(uint64(size), Alignment)
	return r, nil
}

// Free returns a region to the heap. Freeing nil is a no-op.
func (h *Heap) Free(r *Region) {
	if r == nil || r.Bytes == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.used -= len(r.Bytes)
	r.Bytes = nil
}

// InUse returns the number of bytes currently allocated.
func (h *Heap) InUse() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Pools returns the number of registered pools.
func (h *Heap) Pools() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pools)
}

// CreatePool registers an empty pool of count elements of elemSize bytes.
// No memory is reserved until PopulateDefault.
func (h *Heap) CreatePool(name string, count, elemSize int) (*Pool, error) {
	if count < 0 || elemSize <= 0 {
		return nil, fmt.Errorf("mempool: invalid pool shape %d x %d for %s", count, elemSize, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.pools[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolExists, name)
	}

	p := &Pool{name: name, count: count, elemSize: elemSize}
	h.pools[name] = p
	return p, nil
}

// PopulateDefault backs the pool with one contiguous region and marks every
// element free.
func (h *Heap) PopulateDefault(p *Pool) error {
	if p.Populated() {
		return fmt.Errorf("%w: %s", ErrPopulated, p.name)
	}
	if p.count == 0 {
		p.populated = true
		return nil
	}

	arena, err := h.Alloc(p.name, p.count*p.elemSize)
	if err != nil {
		return err
	}
	if err := p.fill(arena); err != nil {
		h.Free(arena)
		return err
	}
	return nil
}

// FreePool releases the pool's backing memory and unregisters its name.
// Freeing nil is a no-op.
func (h *Heap) FreePool(p *Pool) {
	if p == nil {
		return
	}

	h.Free(p.arena)
	p.arena = nil
	p.free = nil
	p.isFree = nil
	p.populated = false

	h.mu.Lock()
	if h.pools[p.name] == p {
		delete(h.pools, p.name)
	}
	h.mu.Unlock()
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
