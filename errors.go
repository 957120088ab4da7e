package timring

import (
	"errors"
	"fmt"
)

// Error classes for timer ring operations.
// These represent categories of errors that integrators can handle uniformly.
// Use errors.Is() to check error class, then inspect the error message for details.
//
// Error Classification:
//   - ErrInvalidConfig: Bad tick/horizon/clock combination or geometry - caller error, do not retry
//   - ErrNoSuchDevice: Ring index beyond what the device exposes
//   - ErrOutOfMemory: Bucket array or chunk pool allocation failed - may retry after freeing memory
//   - ErrDeviceRejected: Coprocessor refused a request or could not be reached - not retried
//   - ErrInvalidState: Operation not allowed in the ring's current lifecycle state
//   - ErrNotSupported: Capability disabled for this adapter
var (
	// ErrInvalidConfig indicates an adapter configuration the ring cannot honor.
	// Examples: tick below the hardware minimum, horizon shorter than one tick,
	// unknown clock source, malformed device-info reply.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoSuchDevice indicates the ring id exceeds the device's ring count.
	ErrNoSuchDevice = errors.New("no such device")

	// ErrOutOfMemory indicates allocation of ring storage failed.
	// Nothing allocated by the failing call is left behind.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrDeviceRejected indicates the coprocessor did not apply a request.
	// Transport failures and explicit rejections are both reported this way.
	ErrDeviceRejected = errors.New("device rejected request")

	// ErrInvalidState indicates a lifecycle operation out of order, such as
	// starting a started ring or freeing a ring twice.
	ErrInvalidState = errors.New("invalid ring state")

	// ErrNotSupported indicates the adapter was built without the capability.
	ErrNotSupported = errors.New("not supported")
)

// Unexported helpers to wrap errors with the appropriate class.

func wrapConfig(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

func wrapConfigf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func wrapNoDevicef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNoSuchDevice, fmt.Sprintf(format, args...))
}

func wrapNoMemory(msg string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrOutOfMemory, msg, cause)
}

// wrapRejected flattens cause; only ErrDeviceRejected matches with errors.Is.
func wrapRejected(msg string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrDeviceRejected, msg, cause)
}

func wrapStatef(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}
