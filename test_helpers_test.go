package timring

import (
	"errors"
	"testing"

	"github.com/edgedlt/timring/csr"
	"github.com/edgedlt/timring/hostclock"
	"github.com/edgedlt/timring/mbox"
	"github.com/edgedlt/timring/mempool"
	"github.com/edgedlt/timring/sim"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Compile-time interface verification.
// These ensure test and in-repo types correctly implement production interfaces.
var (
	_ Allocator      = (*mempool.Heap)(nil)
	_ Allocator      = (*failingAllocator)(nil)
	_ csr.Device     = (*sim.Coprocessor)(nil)
	_ mbox.Transport = (*sim.Coprocessor)(nil)
)

const (
	testCoprocHz = 800_000_000
	testRings    = 8
)

// testEnv wires a ring adapter to a simulated coprocessor, a heap and a
// manual clock shared by host and coprocessor.
type testEnv struct {
	dev   *sim.Coprocessor
	heap  *mempool.Heap
	clock *hostclock.Manual
	cfg   *Config
}

func newTestEnv(t *testing.T, opts ...ConfigOption) *testEnv {
	t.Helper()

	clk := hostclock.NewManual(hostclock.NanosecondHz)
	clk.Set(1_000_000)

	dev, err := sim.New(sim.Config{Rings: testRings, ClockHz: testCoprocHz, Clock: clk})
	require.NoError(t, err)

	heap := mempool.NewHeap(0)

	base := []ConfigOption{
		WithDevice(dev),
		WithMailbox(dev),
		WithAllocator(heap),
		WithHostClock(clk),
		WithLogger(zaptest.NewLogger(t)),
	}
	cfg, err := NewConfig(append(base, opts...)...)
	require.NoError(t, err)

	return &testEnv{dev: dev, heap: heap, clock: clk, cfg: cfg}
}

// registers returns the simulated register file of ring id.
func (e *testEnv) registers(t *testing.T, id uint8) *sim.RegisterFile {
	t.Helper()
	rf, err := e.dev.Ring(id)
	require.NoError(t, err)
	return rf
}

// defaultAdapterConfig is the reference scenario: 1us ticks, 1ms horizon.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Clock:        ClockCPU,
		TickNs:       1000,
		MaxTimeoutNs: 1_000_000,
		NumTimers:    4096,
	}
}

var errInjected = errors.New("injected allocation failure")

// failingAllocator wraps a Heap and fails selected steps.
type failingAllocator struct {
	*mempool.Heap
	failAlloc    bool
	failCreate   bool
	failPopulate bool
}

func (f *failingAllocator) Alloc(tag string, size int) (*mempool.Region, error) {
	if f.failAlloc {
		return nil, errInjected
	}
	return f.Heap.Alloc(tag, size)
}

func (f *failingAllocator) CreatePool(name string, count, elemSize int) (*mempool.Pool, error) {
	if f.failCreate {
		return nil, errInjected
	}
	return f.Heap.CreatePool(name, count, elemSize)
}

func (f *failingAllocator) PopulateDefault(p *mempool.Pool) error {
	if f.failPopulate {
		return errInjected
	}
	return f.Heap.PopulateDefault(p)
}
