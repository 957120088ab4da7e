package timring

import (
	"fmt"
	"math/bits"

	"github.com/edgedlt/timring/internal/reciprocal"
)

// ClockSource selects the oscillator that paces a ring.
type ClockSource int

const (
	// ClockCPU is the coprocessor core clock.
	ClockCPU ClockSource = iota

	// ClockSystem is the system clock. The coprocessor paces it from the
	// same selector as ClockCPU.
	ClockSystem

	// ClockGPIO ticks on an external signal; the tick period is not used.
	ClockGPIO

	// ClockGlobalTimer is the global timer (GTI).
	ClockGlobalTimer

	// ClockPTP is the precision time protocol clock.
	ClockPTP
)

// Hardware clock selectors encoded in ctrl1.
const (
	selectorSCLK uint16 = 0
	selectorGPIO uint16 = 1
	selectorGTI  uint16 = 2
	selectorPTP  uint16 = 3
)

// MinTickNs is the smallest tick period accepted for any clock other than
// ClockCPU.
const MinTickNs uint64 = 1000

const nsPerSecond uint64 = 1_000_000_000

func (c ClockSource) String() string {
	switch c {
	case ClockCPU:
		return "cpu"
	case ClockSystem:
		return "system"
	case ClockGPIO:
		return "gpio"
	case ClockGlobalTimer:
		return "gti"
	case ClockPTP:
		return "ptp"
	default:
		return fmt.Sprintf("clock(%d)", int(c))
	}
}

// ParseClockSource maps a name produced by String back to a ClockSource.
func ParseClockSource(name string) (ClockSource, error) {
	for c := ClockCPU; c <= ClockPTP; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, wrapConfigf("unknown clock source %q", name)
}

func (c ClockSource) selector() (uint16, bool) {
	switch c {
	case ClockCPU, ClockSystem:
		return selectorSCLK, true
	case ClockGPIO:
		return selectorGPIO, true
	case ClockGlobalTimer:
		return selectorGTI, true
	case ClockPTP:
		return selectorPTP, true
	default:
		return 0, false
	}
}

// NsecToCycles converts ns to cycles of a hz clock, truncating.
// It fails if the result does not fit in 64 bits.
func NsecToCycles(ns, hz uint64) (uint64, error) {
	hi, lo := bits.Mul64(ns, hz)
	if hi >= nsPerSecond {
		return 0, wrapConfigf("%d ns at %d Hz overflows 64-bit cycles", ns, hz)
	}
	q, _ := bits.Div64(hi, lo, nsPerSecond)
	return q, nil
}

// IntervalCycles returns the ring tick interval in coprocessor cycles.
// GPIO-paced rings have no internal interval and always yield 0.
func IntervalCycles(src ClockSource, tickNs, coprocHz uint64) (uint64, error) {
	switch src {
	case ClockGPIO:
		return 0, nil
	case ClockCPU, ClockSystem, ClockGlobalTimer, ClockPTP:
		cyc, err := NsecToCycles(tickNs, coprocHz)
		if err != nil {
			return 0, err
		}
		if cyc == 0 {
			return 0, wrapConfigf("tick %d ns is shorter than one cycle at %d Hz", tickNs, coprocHz)
		}
		return cyc, nil
	default:
		return 0, wrapConfigf("unsupported clock source configured %d", int(src))
	}
}

// calibration is what start commits into a ring.
type calibration struct {
	// interval is the tick period in coprocessor cycles (ctrl0).
	interval uint64

	// hostTick is the tick period in host clock cycles.
	hostTick uint64

	// div divides host cycles by hostTick.
	div reciprocal.U64
}

// calibrate converts tickNs for both clock domains. coprocHz comes from a
// fresh device-info reply; hostHz from the host reference clock.
func calibrate(src ClockSource, tickNs, coprocHz, hostHz uint64) (calibration, error) {
	interval, err := IntervalCycles(src, tickNs, coprocHz)
	if err != nil {
		return calibration{}, err
	}

	hostTick, err := NsecToCycles(tickNs, hostHz)
	if err != nil {
		return calibration{}, err
	}
	div, err := reciprocal.New(hostTick)
	if err != nil {
		return calibration{}, wrapConfigf("tick %d ns is shorter than one host cycle at %d Hz", tickNs, hostHz)
	}

	return calibration{interval: interval, hostTick: hostTick, div: div}, nil
}
