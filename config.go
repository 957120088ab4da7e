package timring

import (
	"fmt"

	"github.com/edgedlt/timring/csr"
	"github.com/edgedlt/timring/hostclock"
	"github.com/edgedlt/timring/mbox"
	"github.com/edgedlt/timring/mempool"
	"go.uber.org/zap"
)

// AdapterConfig is the caller's description of one timer ring.
// It is read once by create and never changes for the ring's lifetime.
type AdapterConfig struct {
	// Clock selects the clock source driving the ring.
	Clock ClockSource

	// TickNs is the ring resolution in nanoseconds. Must be positive; for
	// every clock but ClockCPU it must be at least MinTickNs.
	TickNs uint64

	// MaxTimeoutNs is the timeout horizon. Must be at least TickNs.
	MaxTimeoutNs uint64

	// NumTimers is the requested timer capacity.
	NumTimers uint64
}

// Validate checks that the configuration values are sensible.
func (c AdapterConfig) Validate() error {
	if _, ok := c.Clock.selector(); !ok {
		return &ConfigError{Field: "Clock", Message: fmt.Sprintf("unsupported clock source %d", int(c.Clock))}
	}
	if c.TickNs == 0 {
		return &ConfigError{Field: "TickNs", Message: "must be positive"}
	}
	if c.Clock != ClockCPU && c.TickNs < MinTickNs {
		return &ConfigError{Field: "TickNs", Message: fmt.Sprintf("too low timer ticks: %d < %d ns for %s", c.TickNs, MinTickNs, c.Clock)}
	}
	if c.MaxTimeoutNs < c.TickNs {
		return &ConfigError{Field: "MaxTimeoutNs", Message: "must be >= TickNs"}
	}
	if c.MaxTimeoutNs/c.TickNs > MaxBuckets {
		return &ConfigError{Field: "MaxTimeoutNs", Message: fmt.Sprintf("needs %d buckets (max %d)", c.MaxTimeoutNs/c.TickNs, uint64(MaxBuckets))}
	}
	return nil
}

// ConfigError represents a configuration validation error.
// It matches ErrInvalidConfig with errors.Is.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "adapter config: " + e.Field + " " + e.Message
}

// Unwrap returns ErrInvalidConfig.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Config holds the collaborators and chunk geometry shared by every ring of
// one timer device.
type Config struct {
	// Device enumerates rings and maps their registers.
	Device csr.Device

	// Mailbox carries control requests to the timer coprocessor.
	Mailbox mbox.Transport

	// Allocator provides bucket arrays and chunk pools.
	// Default: mempool.NewHeap(DefaultHeapLimit)
	Allocator Allocator

	// HostClock is the local free-running counter used for stats.
	// Default: hostclock.NewMonotonic()
	HostClock hostclock.Clock

	// Logger for structured logging.
	Logger *zap.Logger

	// ChunkSize is the byte size of one chunk. Must be a multiple of
	// mbox.ChunkSizeUnit between MinChunkSize and MaxChunkSize.
	// Default: DefaultChunkSize
	ChunkSize int

	// SlotsPerChunk is the number of timer entries one chunk holds. At most
	// ChunkSize/EntrySize - 1, since the last entry links to the next chunk.
	// Default: DefaultSlotsPerChunk
	SlotsPerChunk uint64

	// EnableStats makes StatsGet and StatsReset available.
	// Default: true
	EnableStats bool
}

// ConfigOption is a functional option for configuring an adapter.
type ConfigOption func(*Config) error

// NewConfig creates a new Config with the given options.
func NewConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		Logger:        zap.NewNop(), // Default: no-op logger
		ChunkSize:     DefaultChunkSize,
		SlotsPerChunk: DefaultSlotsPerChunk,
		EnableStats:   true,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Allocator == nil {
		cfg.Allocator = mempool.NewHeap(DefaultHeapLimit)
	}
	if cfg.HostClock == nil {
		cfg.HostClock = hostclock.NewMonotonic()
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// validate checks that all required configuration fields are set.
func (c *Config) validate() error {
	if c.Device == nil {
		return wrapConfig("device is required")
	}

	if c.Mailbox == nil {
		return wrapConfig("mailbox is required")
	}

	if c.Device.RingCount() <= 0 {
		return wrapConfig("device exposes no rings")
	}

	if c.ChunkSize < MinChunkSize || c.ChunkSize > MaxChunkSize || c.ChunkSize%mbox.ChunkSizeUnit != 0 {
		return wrapConfigf("chunk size %d must be a multiple of %d in [%d, %d]",
			c.ChunkSize, mbox.ChunkSizeUnit, MinChunkSize, MaxChunkSize)
	}

	maxSlots := uint64(c.ChunkSize/EntrySize) - 1
	if c.SlotsPerChunk == 0 || c.SlotsPerChunk > maxSlots {
		return wrapConfigf("slots per chunk %d out of range [1, %d] for %d-byte chunks",
			c.SlotsPerChunk, maxSlots, c.ChunkSize)
	}

	if c.HostClock.Hz() == 0 {
		return wrapConfig("host clock reports zero frequency")
	}

	return nil
}

// WithDevice sets the timer device.
func WithDevice(dev csr.Device) ConfigOption {
	return func(c *Config) error {
		if dev == nil {
			return fmt.Errorf("device cannot be nil")
		}
		c.Device = dev
		return nil
	}
}

// WithMailbox sets the coprocessor mailbox transport.
func WithMailbox(tr mbox.Transport) ConfigOption {
	return func(c *Config) error {
		if tr == nil {
			return fmt.Errorf("mailbox cannot be nil")
		}
		c.Mailbox = tr
		return nil
	}
}

// WithAllocator sets the storage allocator.
func WithAllocator(alloc Allocator) ConfigOption {
	return func(c *Config) error {
		if alloc == nil {
			return fmt.Errorf("allocator cannot be nil")
		}
		c.Allocator = alloc
		return nil
	}
}

// WithHostClock sets the host reference clock.
func WithHostClock(clk hostclock.Clock) ConfigOption {
	return func(c *Config) error {
		if clk == nil {
			return fmt.Errorf("host clock cannot be nil")
		}
		c.HostClock = clk
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ConfigOption {
	return func(c *Config) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.Logger = logger
		return nil
	}
}

// WithChunkSize sets the chunk size in bytes.
func WithChunkSize(size int) ConfigOption {
	return func(c *Config) error {
		if size <= 0 {
			return fmt.Errorf("chunk size must be positive")
		}
		c.ChunkSize = size
		return nil
	}
}

// WithSlotsPerChunk sets the number of timer entries per chunk.
func WithSlotsPerChunk(slots uint64) ConfigOption {
	return func(c *Config) error {
		c.SlotsPerChunk = slots
		return nil
	}
}

// WithStats enables or disables the stats operations.
func WithStats(enabled bool) ConfigOption {
	return func(c *Config) error {
		c.EnableStats = enabled
		return nil
	}
}
