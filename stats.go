package timring

// RecordArm adds n to the ring's arm counter. The data path calls it after
// arming timers; it is safe for concurrent use.
func (r *Ring) RecordArm(n uint64) {
	r.arms.Add(n)
}

// Stats reports the arm counter and the number of ticks elapsed since the
// ring was activated. No coprocessor communication takes place.
func (r *Ring) Stats() (Stats, error) {
	if !r.stats {
		return Stats{}, ErrNotSupported
	}
	if r.state == StateUncreated || r.state == StateFreed {
		return Stats{}, wrapStatef("no stats for ring %d in state %s", r.id, r.state)
	}

	arms := r.arms.Load()
	return Stats{
		ExpiredTimers:  arms,
		EnqueuedEvents: arms,
		Ticks:          r.ticks(),
	}, nil
}

// ResetStats zeroes the arm counter. The activation epoch is untouched, so
// the tick count keeps running.
func (r *Ring) ResetStats() error {
	if !r.stats {
		return ErrNotSupported
	}
	if r.state == StateUncreated || r.state == StateFreed {
		return wrapStatef("no stats for ring %d in state %s", r.id, r.state)
	}

	r.arms.Store(0)
	return nil
}

// ticks converts host cycles since the epoch into ring ticks.
func (r *Ring) ticks() uint64 {
	if r.div.IsZero() {
		return 0
	}
	now := r.clock.Now()
	if now < r.epoch {
		return 0
	}
	return r.div.Divide(now - r.epoch)
}
