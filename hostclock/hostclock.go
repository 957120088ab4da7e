// Package hostclock provides the host reference clock used for local
// elapsed-time reporting of timer rings.
//
// Provides two implementations:
// 1. Monotonic - Production clock reading the kernel's raw monotonic counter
// 2. Manual - Controllable clock for testing
package hostclock

import (
	"sync/atomic"
)

// NanosecondHz is the frequency of a clock counting nanoseconds.
const NanosecondHz uint64 = 1_000_000_000

// Clock is a free-running cycle counter with a fixed frequency.
// All implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current counter value in cycles.
	Now() uint64

	// Hz returns the counter frequency in cycles per second.
	Hz() uint64
}

// Monotonic implements Clock on top of the host's monotonic time source.
// The counter ticks in nanoseconds, so Hz is always NanosecondHz.
type Monotonic struct{}

// NewMonotonic creates a Monotonic clock.
func NewMonotonic() *Monotonic {
	return &Monotonic{}
}

// Now returns nanoseconds from an arbitrary fixed origin.
func (m *Monotonic) Now() uint64 {
	return readMonotonic()
}

// Hz returns NanosecondHz.
func (m *Monotonic) Hz() uint64 {
	return NanosecondHz
}

// Manual implements Clock for testing with manual control.
// Safe for concurrent use.
type Manual struct {
	hz  uint64
	now atomic.Uint64
}

// NewManual creates a Manual clock at the given frequency, starting at zero.
func NewManual(hz uint64) *Manual {
	return &Manual{hz: hz}
}

// Now returns the current counter value.
func (m *Manual) Now() uint64 {
	return m.now.Load()
}

// Hz returns the configured frequency.
func (m *Manual) Hz() uint64 {
	return m.hz
}

// Set sets the counter to an absolute value.
func (m *Manual) Set(cycles uint64) {
	m.now.Store(cycles)
}

// Advance moves the counter forward and returns the new value.
func (m *Manual) Advance(cycles uint64) uint64 {
	return m.now.Add(cycles)
}
