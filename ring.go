package timring

import (
	"context"
	"sync/atomic"

	"github.com/edgedlt/timring/csr"
	"github.com/edgedlt/timring/hostclock"
	"github.com/edgedlt/timring/internal/reciprocal"
	"github.com/edgedlt/timring/mbox"
	"github.com/edgedlt/timring/mempool"
	"go.uber.org/zap"
)

// Ring is one timer ring on the coprocessor.
//
// Lifecycle: Create -> Start <-> Stop -> Free. A ring whose start failed
// after the device was touched is Failed and can only be freed.
//
// Lifecycle calls on one ring must be serialized by the caller. RecordArm,
// Stats and ResetStats may run concurrently with each other.
type Ring struct {
	id        uint8
	cfg       AdapterConfig
	layout    Layout
	chunkSize int
	state     State

	regs   csr.Registers
	cp     *controlPlane
	alloc  Allocator
	clock  hostclock.Clock
	logger *zap.Logger
	stats  bool

	store storage

	// Committed by Start.
	interval uint64
	hostTick uint64
	div      reciprocal.U64
	epoch    uint64

	arms atomic.Uint64
}

// Create validates ac, sizes and allocates the ring's storage, and resets
// the ring's registers. On failure nothing is left allocated.
func Create(cfg *Config, id uint8, ac AdapterConfig) (*Ring, error) {
	if n := cfg.Device.RingCount(); int(id) >= n {
		return nil, wrapNoDevicef("ring %d out of range (device has %d)", id, n)
	}

	logger := cfg.Logger.Named("timvf").With(zap.Uint8("ring", id))

	if err := ac.Validate(); err != nil {
		logger.Error("invalid adapter config", zap.Error(err))
		return nil, err
	}

	regs, err := cfg.Device.BAR(id, csr.DefaultBAR)
	if err != nil {
		return nil, wrapNoDevicef("ring %d: %v", id, err)
	}

	layout := ComputeLayout(ac, cfg.SlotsPerChunk)
	if layout.Chunks == 0 {
		logger.Warn("timer capacity below one chunk; chunk pool is empty",
			zap.Uint64("nb_timers", ac.NumTimers),
			zap.Uint64("slots_per_chunk", cfg.SlotsPerChunk))
	}

	store, err := allocateStorage(cfg.Allocator, id, layout, cfg.ChunkSize)
	if err != nil {
		logger.Error("unable to allocate ring storage", zap.Error(err))
		return nil, err
	}

	r := &Ring{
		id:        id,
		cfg:       ac,
		layout:    layout,
		chunkSize: cfg.ChunkSize,
		state:     StateCreated,
		regs:      regs,
		cp:        &controlPlane{mailbox: cfg.Mailbox, logger: logger},
		alloc:     cfg.Allocator,
		clock:     cfg.HostClock,
		logger:    logger,
		stats:     cfg.EnableStats,
		store:     store,
	}
	r.resetRegisters()

	logger.Info("ring created",
		zap.Stringer("clock", ac.Clock),
		zap.Uint64("tick_ns", ac.TickNs),
		zap.Uint64("max_tmo_ns", ac.MaxTimeoutNs),
		zap.Uint64("nb_bkts", layout.Buckets),
		zap.Uint64("nb_chunks", layout.Chunks))
	return r, nil
}

// resetRegisters clears the ring base and arms the NRSPERR interrupts.
func (r *Ring) resetRegisters() {
	r.regs.Write64(csr.RingBase, 0)
	r.regs.Write64(csr.NRSPErrInt, 0)
	r.regs.Write64(csr.NRSPErrIntW1S, 0)
	r.regs.Write64(csr.NRSPErrEnaW1C, csr.NRSPErrAll)
	r.regs.Write64(csr.NRSPErrEnaW1S, csr.NRSPErrAll)
}

// ID returns the ring id.
func (r *Ring) ID() uint8 { return r.id }

// State returns the lifecycle state.
func (r *Ring) State() State { return r.state }

// Layout returns the ring's bucket and chunk counts.
func (r *Ring) Layout() Layout { return r.layout }

// Config returns the adapter configuration the ring was created with.
func (r *Ring) Config() AdapterConfig { return r.cfg }

// IntervalCycles returns the committed tick interval in coprocessor cycles,
// or 0 before the first successful start.
func (r *Ring) IntervalCycles() uint64 { return r.interval }

// Epoch returns the coprocessor cycle count at activation.
func (r *Ring) Epoch() uint64 { return r.epoch }

// Allocated reports whether the bucket array and chunk pool are held.
func (r *Ring) Allocated() bool { return r.store.allocated() }

// ChunkPool returns the ring's chunk pool, or nil once released.
func (r *Ring) ChunkPool() *mempool.Pool { return r.store.chunks }

// Info describes the ring.
func (r *Ring) Info() Info {
	return Info{
		MaxTimeoutNs:    r.cfg.MaxTimeoutNs,
		MinResolutionNs: r.cfg.TickNs,
		Config:          r.cfg,
		Buckets:         r.layout.Buckets,
		Chunks:          r.layout.Chunks,
		State:           r.state,
	}
}

// Start programs the coprocessor and enables the ring.
//
// Failures while querying the device or calibrating leave the ring as it
// was. Failures once the ring base has been written release the ring's
// storage and leave it Failed; it must be freed and created again.
func (r *Ring) Start(ctx context.Context) error {
	switch r.state {
	case StateCreated, StateStopped:
	case StateStarted:
		return wrapStatef("ring %d already started", r.id)
	default:
		return wrapStatef("cannot start ring %d in state %s", r.id, r.state)
	}

	// Frequency is queried on every start; it is not assumed static.
	info, err := r.cp.devInfo(ctx)
	if err != nil {
		r.logger.Error("device info query failed", zap.Error(err))
		return err
	}

	cal, err := calibrate(r.cfg.Clock, r.cfg.TickNs, info.ClockHz, r.clock.Hz())
	if err != nil {
		r.logger.Error("clock calibration failed", zap.Error(err))
		return err
	}

	ctrl := r.ctrlReg(cal.interval)

	r.regs.Write64(csr.RingBase, r.store.bucketsAddr())
	if err := r.cp.setRingConfig(ctx, r.id, ctrl); err != nil {
		r.fail("set ring config failed", err)
		return err
	}

	epoch, err := r.cp.startCycle(ctx, r.id)
	if err != nil {
		r.fail("start cycle query failed", err)
		return err
	}

	r.interval = cal.interval
	r.hostTick = cal.hostTick
	r.div = cal.div
	r.epoch = epoch
	r.state = StateStarted

	r.logger.Info("ring started",
		zap.Uint64("nb_bkts", r.layout.Buckets),
		zap.Uint64("min_ns", r.cfg.TickNs),
		zap.Uint64("min_cyc", cal.interval),
		zap.Uint64("maxtmo", r.cfg.MaxTimeoutNs),
		zap.Uint64("clk_freq", info.ClockHz),
		zap.Uint64("start_cyc", epoch))
	return nil
}

// ctrlReg builds the control register triple for an enabled ring.
func (r *Ring) ctrlReg(interval uint64) mbox.CtrlReg {
	sel, _ := r.cfg.Clock.selector()
	return mbox.CtrlReg{
		Ctrl0: interval,
		Ctrl1: mbox.PackCtrl1(mbox.Ctrl1Fields{
			ClockSelector: sel,
			BucketLock:    true,
			Enable:        true,
			WriteBuffer:   true,
			Buckets:       r.layout.Buckets,
		}),
		Ctrl2: mbox.PackCtrl2(uint64(r.chunkSize)),
	}
}

// fail releases storage after a start that touched the device.
func (r *Ring) fail(msg string, err error) {
	r.logger.Error(msg, zap.Error(err))
	r.store.release(r.alloc)
	r.state = StateFailed
}

// Stop disables the ring by clearing the enable bit of its current control
// registers. Storage is kept so the ring can be started again. If the
// coprocessor does not acknowledge, the ring stays Started and its hardware
// enable state is unknown.
func (r *Ring) Stop(ctx context.Context) error {
	if r.state != StateStarted {
		return wrapStatef("cannot stop ring %d in state %s", r.id, r.state)
	}

	ctrl := mbox.CtrlReg{
		Ctrl0: r.regs.Read64(csr.RingCtl0),
		Ctrl1: r.regs.Read64(csr.RingCtl1),
		Ctrl2: r.regs.Read64(csr.RingCtl2),
	}.Disabled()

	if err := r.cp.setRingConfig(ctx, r.id, ctrl); err != nil {
		r.logger.Error("ring stop failed", zap.Error(err))
		return err
	}

	r.state = StateStopped
	r.logger.Info("ring stopped")
	return nil
}

// Free releases the chunk pool and bucket array. Valid from Created,
// Stopped and Failed; the ring id may be reused afterwards.
func (r *Ring) Free() error {
	switch r.state {
	case StateCreated, StateStopped, StateFailed:
	case StateStarted:
		return wrapStatef("ring %d must be stopped before free", r.id)
	default:
		return wrapStatef("cannot free ring %d in state %s", r.id, r.state)
	}

	r.store.release(r.alloc)
	r.state = StateFreed
	r.logger.Info("ring freed")
	return nil
}

// Verify reads back the ring's control registers through the mailbox and
// reports whether the coprocessor has the ring enabled. Use it to decide
// whether a failed configuration request needs to be retried.
func (r *Ring) Verify(ctx context.Context) (bool, error) {
	ctrl, err := r.cp.ringConfig(ctx, r.id)
	if err != nil {
		return false, err
	}
	return ctrl.Enabled(), nil
}
