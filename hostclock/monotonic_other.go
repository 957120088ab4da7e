//go:build !linux

package hostclock

import "time"

// genericEpoch is the reference point for counter values.
var genericEpoch = time.Now()

// readMonotonic returns nanoseconds since genericEpoch using the runtime's
// monotonic reading.
func readMonotonic() uint64 {
	return uint64(time.Since(genericEpoch).Nanoseconds())
}
