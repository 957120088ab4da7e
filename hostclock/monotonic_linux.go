//go:build linux

package hostclock

import (
	"time"

	"golang.org/x/sys/unix"
)

var fallbackEpoch = time.Now()

// readMonotonic reads CLOCK_MONOTONIC_RAW, which is not slewed by NTP.
func readMonotonic() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return uint64(time.Since(fallbackEpoch).Nanoseconds())
	}
	return uint64(ts.Nano())
}
