package timring

import (
	"context"

	"github.com/edgedlt/timring/mbox"
	"go.uber.org/zap"
)

// controlPlane issues the timer coprocessor's control requests. These are
// the only calls that talk to the coprocessor.
type controlPlane struct {
	mailbox mbox.Transport
	logger  *zap.Logger
}

// devInfo queries the activity bitmap and coprocessor clock. A reply of the
// wrong size is a configuration error and is not retried.
func (cp *controlPlane) devInfo(ctx context.Context) (mbox.DevInfo, error) {
	// The device-info query always addresses VF 0; ring ids only matter for
	// ring-scoped messages.
	req := mbox.TimerRequest(mbox.MsgGetDevInfo, 0, nil, mbox.DevInfoSize)

	resp, err := cp.send(ctx, req)
	if err != nil {
		return mbox.DevInfo{}, wrapRejected("device info", err)
	}
	if !resp.OK() {
		return mbox.DevInfo{}, wrapRejected("device info", resultError(resp.Code))
	}

	info, err := mbox.DecodeDevInfo(resp.Data)
	if err != nil {
		return mbox.DevInfo{}, wrapConfig(err.Error())
	}
	return info, nil
}

// setRingConfig programs the control register triple of a ring. The
// coprocessor applies it atomically or not at all.
func (cp *controlPlane) setRingConfig(ctx context.Context, ring uint8, ctrl mbox.CtrlReg) error {
	req := mbox.TimerRequest(mbox.MsgSetRingInfo, ring, ctrl.Bytes(), 0)

	resp, err := cp.send(ctx, req)
	if err != nil {
		return wrapRejected("set ring config", err)
	}
	if !resp.OK() {
		return wrapRejected("set ring config", resultError(resp.Code))
	}
	return nil
}

// ringConfig reads back the control register triple the coprocessor holds.
func (cp *controlPlane) ringConfig(ctx context.Context, ring uint8) (mbox.CtrlReg, error) {
	req := mbox.TimerRequest(mbox.MsgGetRingInfo, ring, nil, mbox.CtrlRegSize)

	resp, err := cp.send(ctx, req)
	if err != nil {
		return mbox.CtrlReg{}, wrapRejected("get ring config", err)
	}
	if !resp.OK() {
		return mbox.CtrlReg{}, wrapRejected("get ring config", resultError(resp.Code))
	}

	ctrl, err := mbox.DecodeCtrlReg(resp.Data)
	if err != nil {
		return mbox.CtrlReg{}, wrapRejected("get ring config", err)
	}
	return ctrl, nil
}

// startCycle reads the coprocessor's free-running counter for ring.
func (cp *controlPlane) startCycle(ctx context.Context, ring uint8) (uint64, error) {
	req := mbox.TimerRequest(mbox.MsgRingStartCycGet, ring, nil, mbox.StartCycleSize)

	resp, err := cp.send(ctx, req)
	if err != nil {
		return 0, wrapRejected("start cycle", err)
	}
	if !resp.OK() {
		return 0, wrapRejected("start cycle", resultError(resp.Code))
	}

	cyc, err := mbox.DecodeStartCycle(resp.Data)
	if err != nil {
		return 0, wrapRejected("start cycle", err)
	}
	return cyc, nil
}

func (cp *controlPlane) send(ctx context.Context, req mbox.Request) (mbox.Response, error) {
	resp, err := cp.mailbox.Send(ctx, req)
	if err != nil {
		cp.logger.Debug("mailbox send failed",
			zap.Uint8("msg", req.Header.Msg),
			zap.Uint16("vfid", req.Header.VFID),
			zap.Error(err))
		return resp, err
	}
	cp.logger.Debug("mailbox reply",
		zap.Uint8("msg", req.Header.Msg),
		zap.Uint16("vfid", req.Header.VFID),
		zap.Stringer("result", resp.Code),
		zap.Int("len", len(resp.Data)))
	return resp, nil
}

// resultError describes a non-success result code.
type resultError mbox.ResultCode

func (e resultError) Error() string {
	return "coprocessor returned " + mbox.ResultCode(e).String()
}
