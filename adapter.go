package timring

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Adapter exposes the rings of one timer device to an event device: init,
// uninit, start, stop, info and stats, each keyed by ring id.
//
// The registry of rings is safe for concurrent use. Operations on the same
// ring id must still be serialized by the caller.
type Adapter struct {
	mu     sync.Mutex
	cfg    *Config
	rings  map[uint8]*Ring
	logger *zap.Logger
	cp     *controlPlane
}

// NewAdapter creates an adapter over the device in cfg. Its logger lives
// as long as the adapter; Close flushes it.
func NewAdapter(cfg *Config) *Adapter {
	logger := cfg.Logger.Named("timvf")
	return &Adapter{
		cfg:    cfg,
		rings:  make(map[uint8]*Ring),
		logger: logger,
		cp:     &controlPlane{mailbox: cfg.Mailbox, logger: logger},
	}
}

// Caps reports the adapter capabilities.
func (a *Adapter) Caps() Capability {
	caps := CapInternalPort
	if a.cfg.EnableStats {
		caps |= CapStats
	}
	return caps
}

// Init creates ring id. The id must not be live already.
func (a *Adapter) Init(id uint8, ac AdapterConfig) (*Ring, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.rings[id]; ok {
		return nil, wrapStatef("ring %d already initialized", id)
	}

	r, err := Create(a.cfg, id, ac)
	if err != nil {
		return nil, err
	}
	a.rings[id] = r
	return r, nil
}

// Uninit frees ring id and forgets it, making the id available again.
func (a *Adapter) Uninit(id uint8) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, err := a.lookupLocked(id)
	if err != nil {
		return err
	}
	if err := r.Free(); err != nil {
		return err
	}
	delete(a.rings, id)
	return nil
}

// Start starts ring id.
func (a *Adapter) Start(ctx context.Context, id uint8) error {
	r, err := a.lookup(id)
	if err != nil {
		return err
	}
	return r.Start(ctx)
}

// Stop stops ring id.
func (a *Adapter) Stop(ctx context.Context, id uint8) error {
	r, err := a.lookup(id)
	if err != nil {
		return err
	}
	return r.Stop(ctx)
}

// Info describes ring id.
func (a *Adapter) Info(id uint8) (Info, error) {
	r, err := a.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return r.Info(), nil
}

// StatsGet reports the stats of ring id.
func (a *Adapter) StatsGet(id uint8) (Stats, error) {
	r, err := a.lookup(id)
	if err != nil {
		return Stats{}, err
	}
	return r.Stats()
}

// StatsReset zeroes the arm counter of ring id.
func (a *Adapter) StatsReset(id uint8) error {
	r, err := a.lookup(id)
	if err != nil {
		return err
	}
	return r.ResetStats()
}

// Ring returns the live ring with the given id.
func (a *Adapter) Ring(id uint8) (*Ring, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.rings[id]
	return r, ok
}

// RingActive asks the coprocessor whether ring id is enabled, using the
// device-info activity bitmap.
func (a *Adapter) RingActive(ctx context.Context, id uint8) (bool, error) {
	info, err := a.cp.devInfo(ctx)
	if err != nil {
		return false, err
	}
	return info.RingIsActive(id), nil
}

// Close stops started rings and frees every ring, then flushes the logger.
// It returns the joined errors of rings that could not be released.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for id, r := range a.rings {
		if r.State() == StateStarted {
			if err := r.Stop(ctx); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := r.Free(); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(a.rings, id)
	}

	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *Adapter) lookup(id uint8) (*Ring, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lookupLocked(id)
}

func (a *Adapter) lookupLocked(id uint8) (*Ring, error) {
	r, ok := a.rings[id]
	if !ok {
		return nil, wrapStatef("ring %d not initialized", id)
	}
	return r, nil
}
