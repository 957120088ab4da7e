package sim

import (
	"sync"

	"github.com/edgedlt/timring/csr"
	"github.com/edgedlt/timring/hostclock"
)

// RegisterFile is the BAR0 window of one simulated ring.
// The free-running counter registers read the coprocessor clock.
type RegisterFile struct {
	mu     sync.Mutex
	regs   map[uint64]uint64
	writes []Write
	clock  hostclock.Clock
}

// Write records one register write.
type Write struct {
	Offset uint64
	Value  uint64
}

func newRegisterFile(clock hostclock.Clock) *RegisterFile {
	return &RegisterFile{
		regs:  make(map[uint64]uint64),
		clock: clock,
	}
}

// Read64 reads a register. Unwritten registers read as zero.
func (r *RegisterFile) Read64(offset uint64) uint64 {
	switch offset {
	case csr.FreeRunCycles, csr.FreeRunGTI, csr.FreeRunPTP:
		return r.clock.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[offset]
}

// Write64 writes a register and records the write.
func (r *RegisterFile) Write64(offset uint64, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.regs[offset] = value
	r.writes = append(r.writes, Write{Offset: offset, Value: value})
}

// Writes returns a copy of the write log.
func (r *RegisterFile) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// ClearWrites empties the write log without touching register values.
func (r *RegisterFile) ClearWrites() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
}

// set stores a value without logging it, as the coprocessor does when it
// commits a ring configuration.
func (r *RegisterFile) set(offset uint64, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[offset] = value
}

func (r *RegisterFile) get(offset uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[offset]
}
