// Package timring manages hardware-offloaded event timer rings: a timing
// wheel kept by a timer coprocessor that raises event notifications at
// future instants without host polling.
//
// The package covers the adapter-level lifecycle of a ring. It sizes the
// bucket array and chunk pool from an AdapterConfig, converts the tick
// period into coprocessor and host clock cycles, and drives the coprocessor
// over its mailbox to configure, start and stop the ring. Arming and
// expiring individual timers is left to the data path.
package timring

import (
	"github.com/edgedlt/timring/mempool"
)

// Allocator provides ring storage: a zeroed bucket array with a bus address
// and a chunk pool for timer entries.
//
// mempool.Heap is the in-process implementation.
type Allocator interface {
	// Alloc returns a zeroed region of size bytes tagged for diagnostics.
	Alloc(tag string, size int) (*mempool.Region, error)

	// Free releases a region returned by Alloc.
	Free(r *mempool.Region)

	// CreatePool registers an empty pool of count elements of elemSize bytes.
	CreatePool(name string, count, elemSize int) (*mempool.Pool, error)

	// PopulateDefault backs a pool with memory using the allocator's
	// default placement.
	PopulateDefault(p *mempool.Pool) error

	// FreePool releases a pool and its backing memory.
	FreePool(p *mempool.Pool)
}

// State is a ring's lifecycle state.
type State int

const (
	// StateUncreated is the zero state of a ring that was never created.
	StateUncreated State = iota

	// StateCreated - storage allocated, coprocessor not programmed
	StateCreated

	// StateStarted - ring enabled on the coprocessor
	StateStarted

	// StateStopped - ring disabled, storage kept
	StateStopped

	// StateFailed - start failed after touching the device; storage released
	StateFailed

	// StateFreed - terminal
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateUncreated:
		return "uncreated"
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// Capability flags reported by Adapter.Caps.
type Capability uint32

const (
	// CapInternalPort means expiries are enqueued by the coprocessor itself,
	// without a host service core.
	CapInternalPort Capability = 1 << iota

	// CapStats means StatsGet and StatsReset are available.
	CapStats
)

// Info describes a created ring.
type Info struct {
	MaxTimeoutNs    uint64
	MinResolutionNs uint64
	Config          AdapterConfig
	Buckets         uint64
	Chunks          uint64
	State           State
}

// Stats are the ring's observable counters.
type Stats struct {
	// ExpiredTimers equals the arm counter; expiry is not tracked
	// independently of arming.
	ExpiredTimers uint64

	// EnqueuedEvents equals the arm counter.
	EnqueuedEvents uint64

	// Ticks is the number of ring ticks since activation.
	Ticks uint64
}
