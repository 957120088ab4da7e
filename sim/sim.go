// Package sim provides an in-process timer coprocessor: the mailbox
// endpoint, the per-ring register windows, and fault injection for tests
// and demos.
package sim

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/edgedlt/timring/csr"
	"github.com/edgedlt/timring/hostclock"
	"github.com/edgedlt/timring/mbox"
	"go.uber.org/zap"
)

const (
	// DefaultRings is the number of ring virtual functions per device.
	DefaultRings = 64

	// DefaultClockHz is the coprocessor clock frequency.
	DefaultClockHz uint64 = 800_000_000

	// MaxRings is the largest ring count the device-info bitmap can describe.
	MaxRings = 256
)

// Config configures a simulated coprocessor.
type Config struct {
	// Rings is the number of rings. Default: DefaultRings.
	Rings int

	// ClockHz is reported in the device-info reply. Default: DefaultClockHz.
	ClockHz uint64

	// Clock drives the free-running counter returned by the start-cycle
	// query. Sharing it with the host side makes elapsed-tick reporting
	// deterministic. Default: hostclock.NewMonotonic().
	Clock hostclock.Clock

	// Logger for request tracing. Default: no-op.
	Logger *zap.Logger
}

// Fault alters the coprocessor's handling of one message id.
type Fault struct {
	// Err, if set, fails the request at the transport level.
	Err error

	// Code replaces the result code of the reply.
	Code mbox.ResultCode

	// Truncate cuts the reply payload to ReplyLen bytes.
	Truncate bool
	ReplyLen int

	// Count is how many requests the fault applies to; 0 means forever.
	Count int
}

// Coprocessor simulates the timer coprocessor and its ring registers.
// It implements mbox.Transport and csr.Device. Safe for concurrent use.
type Coprocessor struct {
	mu       sync.Mutex
	clockHz  uint64
	clock    hostclock.Clock
	rings    []*RegisterFile
	faults   map[uint8]*Fault
	requests []mbox.Request
	logger   *zap.Logger
}

// New creates a simulated coprocessor.
func New(cfg Config) (*Coprocessor, error) {
	if cfg.Rings == 0 {
		cfg.Rings = DefaultRings
	}
	if cfg.Rings < 0 || cfg.Rings > MaxRings {
		return nil, fmt.Errorf("sim: ring count %d out of range (max %d)", cfg.Rings, MaxRings)
	}
	if cfg.ClockHz == 0 {
		cfg.ClockHz = DefaultClockHz
	}
	if cfg.Clock == nil {
		cfg.Clock = hostclock.NewMonotonic()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Coprocessor{
		clockHz: cfg.ClockHz,
		clock:   cfg.Clock,
		rings:   make([]*RegisterFile, cfg.Rings),
		faults:  make(map[uint8]*Fault),
		logger:  cfg.Logger,
	}
	for i := range c.rings {
		c.rings[i] = newRegisterFile(cfg.Clock)
	}
	return c, nil
}

// RingCount returns the number of rings.
func (c *Coprocessor) RingCount() int {
	return len(c.rings)
}

// BAR returns the register window of a ring. Only BAR0 exists.
func (c *Coprocessor) BAR(ring uint8, index int) (csr.Registers, error) {
	rf, err := c.Ring(ring)
	if err != nil {
		return nil, err
	}
	if index != csr.DefaultBAR {
		return nil, fmt.Errorf("%w: ring %d bar %d", csr.ErrNoBAR, ring, index)
	}
	return rf, nil
}

// Ring returns the register file of a ring for inspection.
func (c *Coprocessor) Ring(ring uint8) (*RegisterFile, error) {
	if int(ring) >= len(c.rings) {
		return nil, fmt.Errorf("%w: ring %d", csr.ErrNoBAR, ring)
	}
	return c.rings[ring], nil
}

// InjectFault installs f for msg, replacing any previous fault.
func (c *Coprocessor) InjectFault(msg uint8, f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[msg] = &f
}

// ClearFaults removes all faults.
func (c *Coprocessor) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = make(map[uint8]*Fault)
}

// Requests returns a copy of every request received.
func (c *Coprocessor) Requests() []mbox.Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]mbox.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Send handles one mailbox request.
func (c *Coprocessor) Send(ctx context.Context, req mbox.Request) (mbox.Response, error) {
	if err := ctx.Err(); err != nil {
		return mbox.Response{}, fmt.Errorf("%w: %v", mbox.ErrTransport, err)
	}

	c.mu.Lock()
	c.requests = append(c.requests, req)
	fault := c.takeFault(req.Header.Msg)
	c.mu.Unlock()

	if fault != nil && fault.Err != nil {
		c.logger.Debug("injected transport fault",
			zap.Uint8("msg", req.Header.Msg), zap.Error(fault.Err))
		return mbox.Response{}, fmt.Errorf("%w: %v", mbox.ErrTransport, fault.Err)
	}

	resp := c.handle(req)
	if fault != nil {
		if fault.Code != mbox.ResultSuccess {
			resp.Code = fault.Code
		}
		if fault.Truncate && fault.ReplyLen < len(resp.Data) {
			resp.Data = resp.Data[:fault.ReplyLen]
		}
	}
	if len(resp.Data) > req.ReplyCap {
		resp.Data = resp.Data[:req.ReplyCap]
	}

	c.logger.Debug("mailbox request",
		zap.Uint8("msg", req.Header.Msg),
		zap.Uint16("vfid", req.Header.VFID),
		zap.Stringer("result", resp.Code),
		zap.Int("reply_len", len(resp.Data)))
	return resp, nil
}

// takeFault returns the fault for msg and consumes one use. Caller holds mu.
func (c *Coprocessor) takeFault(msg uint8) *Fault {
	f, ok := c.faults[msg]
	if !ok {
		return nil
	}
	out := *f
	if f.Count > 0 {
		f.Count--
		if f.Count == 0 {
			delete(c.faults, msg)
		}
	}
	return &out
}

func (c *Coprocessor) handle(req mbox.Request) mbox.Response {
	if req.Header.Coproc != mbox.CoprocTimer {
		return mbox.Response{Code: mbox.ResultInvalid}
	}

	switch req.Header.Msg {
	case mbox.MsgGetDevInfo:
		return mbox.Response{Code: mbox.ResultSuccess, Data: c.devInfo().Bytes()}

	case mbox.MsgGetRingInfo:
		if int(req.Header.VFID) >= len(c.rings) {
			return mbox.Response{Code: mbox.ResultInvalid}
		}
		return mbox.Response{Code: mbox.ResultSuccess, Data: readCtrl(c.rings[req.Header.VFID]).Bytes()}

	case mbox.MsgSetRingInfo:
		return c.setRingInfo(req)

	case mbox.MsgRingStartCycGet:
		if int(req.Header.VFID) >= len(c.rings) {
			return mbox.Response{Code: mbox.ResultInvalid}
		}
		return mbox.Response{Code: mbox.ResultSuccess, Data: mbox.EncodeStartCycle(c.clock.Now())}

	default:
		return mbox.Response{Code: mbox.ResultInvalid}
	}
}

func (c *Coprocessor) setRingInfo(req mbox.Request) mbox.Response {
	if int(req.Header.VFID) >= len(c.rings) {
		return mbox.Response{Code: mbox.ResultInvalid}
	}
	ctrl, err := mbox.DecodeCtrlReg(req.Payload)
	if err != nil {
		return mbox.Response{Code: mbox.ResultInvalid}
	}

	rf := c.rings[req.Header.VFID]
	if ctrl.Enabled() {
		// An enabled ring needs somewhere to walk.
		if rf.get(csr.RingBase) == 0 || mbox.UnpackCtrl2(ctrl.Ctrl2) == 0 {
			return mbox.Response{Code: mbox.ResultInvalid}
		}
		sel := mbox.UnpackCtrl1(ctrl.Ctrl1).ClockSelector
		if sel != 1 && ctrl.Ctrl0 == 0 {
			return mbox.Response{Code: mbox.ResultInvalid}
		}
	}

	rf.set(csr.RingCtl0, ctrl.Ctrl0)
	rf.set(csr.RingCtl1, ctrl.Ctrl1)
	rf.set(csr.RingCtl2, ctrl.Ctrl2)
	return mbox.Response{Code: mbox.ResultSuccess}
}

func (c *Coprocessor) devInfo() mbox.DevInfo {
	d := mbox.DevInfo{ClockHz: c.clockHz}
	for i, rf := range c.rings {
		if mbox.UnpackCtrl1(rf.get(csr.RingCtl1)).Enable {
			d.RingActive[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return d
}

func readCtrl(rf *RegisterFile) mbox.CtrlReg {
	return mbox.CtrlReg{
		Ctrl0: rf.get(csr.RingCtl0),
		Ctrl1: rf.get(csr.RingCtl1),
		Ctrl2: rf.get(csr.RingCtl2),
	}
}

// ServeStream answers framed requests on rw until ctx is done, the stream
// fails, or an injected transport fault drops the link.
func (c *Coprocessor) ServeStream(ctx context.Context, rw io.ReadWriter) error {
	for {
		req, err := mbox.ReadFrame(ctx, rw)
		if err != nil {
			return err
		}

		resp, err := c.Send(ctx, mbox.Request{
			Header:   req.Header,
			Payload:  req.Payload,
			ReplyCap: int(req.ReplyCap),
		})
		if err != nil {
			return err
		}

		err = mbox.WriteFrame(rw, mbox.Frame{
			Seq:     req.Seq,
			Header:  req.Header,
			Code:    resp.Code,
			Payload: resp.Data,
		})
		if err != nil {
			return err
		}
	}
}
