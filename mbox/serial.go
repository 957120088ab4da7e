package mbox

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig describes a serial-attached coprocessor mailbox.
type SerialConfig struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate. USB CDC devices ignore it.
	Baud int

	// ReadTimeout bounds each read; 0 blocks forever.
	ReadTimeout time.Duration
}

// DefaultSerialConfig returns a configuration for device with a 115200 baud
// rate and a 100ms read timeout.
func DefaultSerialConfig(device string) *SerialConfig {
	return &SerialConfig{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// OpenSerialPort opens the raw serial port described by cfg. The
// coprocessor end of a link uses it to serve frames.
func OpenSerialPort(cfg *SerialConfig) (io.ReadWriteCloser, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, transportErrorf("open serial port %s: %v", cfg.Device, err)
	}
	return port, nil
}

// OpenSerial opens a serial port and returns a stream transport over it.
func OpenSerial(cfg *SerialConfig) (*StreamTransport, error) {
	port, err := OpenSerialPort(cfg)
	if err != nil {
		return nil, err
	}
	return NewStreamTransport(port), nil
}
