// Package mbox implements the request/response mailbox used to control the
// timer coprocessor, together with the fixed-layout payloads it carries.
//
// A request is an immutable Request value; the coprocessor's verdict comes
// back as a Response value. Transport failures are reported as errors
// wrapping ErrTransport; protocol-level rejections are carried in
// Response.Code and are not errors at this layer.
package mbox

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransport indicates the request could not be delivered or its reply
// could not be received.
var ErrTransport = errors.New("mailbox transport failure")

// CoprocTimer is the coprocessor id of the timer unit.
const CoprocTimer uint8 = 8

// Timer coprocessor message ids.
const (
	MsgGetDevInfo      uint8 = 1
	MsgGetRingInfo     uint8 = 2
	MsgSetRingInfo     uint8 = 3
	MsgRingStartCycGet uint8 = 4
)

// ResultCode is the coprocessor's verdict on a request.
type ResultCode uint8

const (
	ResultSuccess ResultCode = iota
	ResultInvalid
	ResultInternalErr
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultInvalid:
		return "invalid"
	case ResultInternalErr:
		return "internal-error"
	default:
		return fmt.Sprintf("result(%d)", uint8(c))
	}
}

// Header addresses a request to one coprocessor function.
// VFID is the target ring; device-wide queries use 0.
type Header struct {
	Coproc uint8
	Msg    uint8
	VFID   uint16
}

// Request is one mailbox message.
type Request struct {
	Header  Header
	Payload []byte

	// ReplyCap is the largest reply the caller accepts. Transports truncate
	// longer replies to this size.
	ReplyCap int
}

// Response is the coprocessor's reply.
type Response struct {
	Code ResultCode
	Data []byte
}

// OK reports whether the coprocessor accepted the request.
func (r Response) OK() bool {
	return r.Code == ResultSuccess
}

// Transport sends a request and blocks until the reply arrives.
//
// There is no timeout at this layer: implementations decide how long a
// silent coprocessor may hold the caller, and may use ctx to bound it.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req Request) (Response, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// TimerRequest builds a request for the timer coprocessor.
func TimerRequest(msg uint8, ring uint8, payload []byte, replyCap int) Request {
	return Request{
		Header:   Header{Coproc: CoprocTimer, Msg: msg, VFID: uint16(ring)},
		Payload:  payload,
		ReplyCap: replyCap,
	}
}

func transportErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransport, fmt.Sprintf(format, args...))
}
