package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocZeroedAndAligned(t *testing.T) {
	h := NewHeap(0)

	a, err := h.Alloc("a", 100)
	require.NoError(t, err)
	b, err := h.Alloc("b", 32)
	require.NoError(t, err)

	assert.Equal(t, 100, a.Size())
	assert.Equal(t, uint64(0), a.Addr%Alignment)
	assert.Equal(t, uint64(0), b.Addr%Alignment)
	assert.Greater(t, b.Addr, a.Addr)
	assert.Equal(t, make([]byte, 100), a.Bytes)
	assert.Equal(t, 132, h.InUse())

	h.Free(a)
	h.Free(b)
	assert.Equal(t, 0, h.InUse())
}

func TestAllocLimit(t *testing.T) {
	h := NewHeap(1024)

	_, err := h.Alloc("fits", 1000)
	require.NoError(t, err)

	_, err = h.Alloc("too-big", 100)
	assert.ErrorIs(t, err, ErrNoMemory)
}

func TestAllocInvalidSize(t *testing.T) {
	h := NewHeap(0)
	_, err := h.Alloc("zero", 0)
	assert.Error(t, err)
}

func TestFreeTwiceIsHarmless(t *testing.T) {
	h := NewHeap(0)
	r, err := h.Alloc("r", 64)
	require.NoError(t, err)

	h.Free(r)
	h.Free(r)
	h.Free(nil)
	assert.Equal(t, 0, h.InUse())
}

func TestPoolLifecycle(t *testing.T) {
	h := NewHeap(0)

	p, err := h.CreatePool("chunks", 8, 4096)
	require.NoError(t, err)
	assert.False(t, p.Populated())
	assert.Equal(t, 0, h.InUse(), "CreatePool must not reserve memory")

	require.NoError(t, h.PopulateDefault(p))
	assert.True(t, p.Populated())
	assert.Equal(t, 8, p.Available())
	assert.Equal(t, 8*4096, h.InUse())
	assert.NotZero(t, p.Addr())

	seen := make(map[int]bool)
	var chunks []Chunk
	for i := 0; i < 8; i++ {
		c, err := p.Get()
		require.NoError(t, err)
		assert.Len(t, c.Bytes, 4096)
		assert.Equal(t, p.Addr()+uint64(c.Index*4096), c.Addr)
		assert.False(t, seen[c.Index], "chunk %d handed out twice", c.Index)
		seen[c.Index] = true
		chunks = append(chunks, c)
	}

	_, err = p.Get()
	assert.ErrorIs(t, err, ErrExhausted)

	for _, c := range chunks {
		require.NoError(t, p.Put(c))
	}
	assert.Equal(t, 8, p.Available())

	h.FreePool(p)
	assert.Equal(t, 0, h.InUse())
	assert.Equal(t, 0, h.Pools())
}

func TestPoolDuplicateName(t *testing.T) {
	h := NewHeap(0)
	_, err := h.CreatePool("dup", 1, 16)
	require.NoError(t, err)

	_, err = h.CreatePool("dup", 1, 16)
	assert.ErrorIs(t, err, ErrPoolExists)
}

func TestPoolPopulateTwice(t *testing.T) {
	h := NewHeap(0)
	p, err := h.CreatePool("twice", 2, 16)
	require.NoError(t, err)
	require.NoError(t, h.PopulateDefault(p))

	assert.ErrorIs(t, h.PopulateDefault(p), ErrPopulated)
}

func TestPoolPopulateOutOfMemory(t *testing.T) {
	h := NewHeap(1000)
	p, err := h.CreatePool("big", 4, 4096)
	require.NoError(t, err)

	assert.ErrorIs(t, h.PopulateDefault(p), ErrNoMemory)
	assert.False(t, p.Populated())
	assert.Equal(t, 0, h.InUse())
}

func TestEmptyPool(t *testing.T) {
	h := NewHeap(0)
	p, err := h.CreatePool("empty", 0, 4096)
	require.NoError(t, err)
	require.NoError(t, h.PopulateDefault(p))

	assert.True(t, p.Populated())
	assert.Equal(t, 0, p.Available())
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrExhausted)
	h.FreePool(p)
}

func TestPoolPutForeignChunk(t *testing.T) {
	h := NewHeap(0)
	p, err := h.CreatePool("foreign", 2, 16)
	require.NoError(t, err)
	require.NoError(t, h.PopulateDefault(p))

	assert.Error(t, p.Put(Chunk{Index: 7}))
}

func TestPoolPutTwice(t *testing.T) {
	h := NewHeap(0)
	p, err := h.CreatePool("twice", 4, 16)
	require.NoError(t, err)
	require.NoError(t, h.PopulateDefault(p))

	// A chunk never taken is already free.
	assert.ErrorIs(t, p.Put(Chunk{Index: 0}), ErrAlreadyFree)
	assert.Equal(t, 4, p.Available())

	c, err := p.Get()
	require.NoError(t, err)
	require.NoError(t, p.Put(c))
	assert.ErrorIs(t, p.Put(c), ErrAlreadyFree)
	assert.Equal(t, 4, p.Available())

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		c, err := p.Get()
		require.NoError(t, err)
		assert.False(t, seen[c.Index], "chunk %d handed out twice", c.Index)
		seen[c.Index] = true
	}
	_, err = p.Get()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestPoolConcurrentPut(t *testing.T) {
	h := NewHeap(0)
	p, err := h.CreatePool("concurrent", 64, 16)
	require.NoError(t, err)
	require.NoError(t, h.PopulateDefault(p))

	var chunks []Chunk
	for i := 0; i < 64; i++ {
		c, err := p.Get()
		require.NoError(t, err)
		chunks = append(chunks, c)
	}

	var wg sync.WaitGroup
	for _, c := range chunks {
		wg.Add(1)
		go func(c Chunk) {
			defer wg.Done()
			assert.NoError(t, p.Put(c))
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 64, p.Available())
}
