// Package csr describes the per-ring control/status registers of the timer
// coprocessor and the device surface used to reach them.
//
// Offsets are relative to BAR0 of the ring's virtual function.
package csr

import "errors"

// Register offsets in BAR0.
const (
	NRSPErrInt    uint64 = 0x0
	NRSPErrIntW1S uint64 = 0x8
	NRSPErrEnaW1C uint64 = 0x10
	NRSPErrEnaW1S uint64 = 0x18
	FreeRunCycles uint64 = 0x20
	FreeRunGPIOs  uint64 = 0x28
	FreeRunGTI    uint64 = 0x30
	FreeRunPTP    uint64 = 0x38
	RingCtl0      uint64 = 0x40
	RingCtl1      uint64 = 0x50
	RingCtl2      uint64 = 0x60
	RingBase      uint64 = 0x100
	RingAura      uint64 = 0x108
	RingRel       uint64 = 0x110
)

const (
	// BAR0Size is the size of the register window mapped per ring.
	BAR0Size uint64 = 0x200

	// NRSPErrAll covers the three NRSPERR interrupt sources.
	NRSPErrAll uint64 = 0x7

	// DefaultBAR is the BAR holding the ring registers.
	DefaultBAR = 0
)

// ErrNoBAR is returned when a ring or BAR index does not exist.
var ErrNoBAR = errors.New("csr: no such BAR")

// Registers is a 64-bit register window.
type Registers interface {
	Read64(offset uint64) uint64
	Write64(offset uint64, value uint64)
}

// Device enumerates timer rings and maps their register windows.
type Device interface {
	// RingCount returns the number of ring virtual functions on the device.
	RingCount() int

	// BAR returns the register window for the given ring and BAR index.
	BAR(ring uint8, index int) (Registers, error)
}
