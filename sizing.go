package timring

import (
	"fmt"
	"math"

	"github.com/edgedlt/timring/mbox"
	"github.com/edgedlt/timring/mempool"
)

// Storage geometry.
const (
	// BucketSize is the byte size of one timing wheel bucket as the
	// coprocessor walks it: first chunk, lock/count word, current chunk, pad.
	BucketSize = 32

	// EntrySize is the byte size of one timer entry in a chunk.
	EntrySize = 16

	// DefaultChunkSize is the default chunk size in bytes.
	DefaultChunkSize = 4096

	// MinChunkSize and MaxChunkSize bound the configurable chunk size.
	MinChunkSize = 2 * EntrySize
	MaxChunkSize = 4096

	// DefaultSlotsPerChunk reserves the last entry of a chunk for the link
	// to the next chunk.
	DefaultSlotsPerChunk = DefaultChunkSize/EntrySize - 1

	// MaxBuckets is the largest bucket count ctrl1 can encode.
	MaxBuckets = mbox.MaxBucketsEncodeable

	// DefaultHeapLimit caps the default in-process allocator.
	DefaultHeapLimit = 1 << 30
)

// Layout is the shape of a ring's storage.
type Layout struct {
	// Buckets is the timing wheel size: horizon / tick, truncated.
	Buckets uint64

	// Chunks is the chunk pool size: capacity / slots per chunk, truncated.
	// It may be zero when capacity is below one chunk's worth of slots.
	Chunks uint64
}

// ComputeLayout derives bucket and chunk counts. Both divisions truncate, so
// a horizon that is not a multiple of the tick and a capacity that is not a
// multiple of the chunk slots are under-provisioned rather than rounded up.
// cfg must be valid and slotsPerChunk non-zero.
func ComputeLayout(cfg AdapterConfig, slotsPerChunk uint64) Layout {
	return Layout{
		Buckets: cfg.MaxTimeoutNs / cfg.TickNs,
		Chunks:  cfg.NumTimers / slotsPerChunk,
	}
}

// storage is a ring's bucket array and chunk pool. Both are set or both are
// nil outside of allocateStorage.
type storage struct {
	buckets *mempool.Region
	chunks  *mempool.Pool
}

func (s *storage) allocated() bool {
	return s.buckets != nil && s.chunks != nil
}

// bucketsAddr returns the bus address of the bucket array.
func (s *storage) bucketsAddr() uint64 {
	if s.buckets == nil {
		return 0
	}
	return s.buckets.Addr
}

// release frees the chunk pool and the bucket array. Safe to call on an
// empty storage.
func (s *storage) release(alloc Allocator) {
	if s.chunks != nil {
		alloc.FreePool(s.chunks)
		s.chunks = nil
	}
	if s.buckets != nil {
		alloc.Free(s.buckets)
		s.buckets = nil
	}
}

// chunkPoolName is the allocator name of a ring's chunk pool.
func chunkPoolName(ring uint8) string {
	return fmt.Sprintf("tim_chunk_pool%d", ring)
}

// allocateStorage allocates the bucket array and an empty chunk pool, then
// populates the pool. On any failure nothing stays allocated.
func allocateStorage(alloc Allocator, ring uint8, layout Layout, chunkSize int) (storage, error) {
	if layout.Buckets > math.MaxInt/BucketSize {
		return storage{}, wrapNoMemory("bucket array", fmt.Errorf("%d buckets", layout.Buckets))
	}
	if layout.Chunks > uint64(math.MaxInt/chunkSize) {
		return storage{}, wrapNoMemory("chunk pool", fmt.Errorf("%d chunks of %d bytes", layout.Chunks, chunkSize))
	}

	var s storage

	bkt, err := alloc.Alloc("tim_ring_buckets", int(layout.Buckets)*BucketSize)
	if err != nil {
		return storage{}, wrapNoMemory("bucket array", err)
	}
	s.buckets = bkt

	pool, err := alloc.CreatePool(chunkPoolName(ring), int(layout.Chunks), chunkSize)
	if err != nil {
		s.release(alloc)
		return storage{}, wrapNoMemory("unable to create chunkpool", err)
	}
	s.chunks = pool

	if err := alloc.PopulateDefault(pool); err != nil {
		s.release(alloc)
		return storage{}, wrapNoMemory("unable to populate chunkpool", err)
	}

	return s, nil
}
