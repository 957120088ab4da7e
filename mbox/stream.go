package mbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Frame layout on a byte stream:
//
//	[len:2][seq:1][coproc:1][msg:1][vfid:2][code:1][cap:2][payload...][crc:2][sync:1]
//
// len counts the whole frame. The CRC covers header and payload and is sent
// big-endian, matching the Klipper-style framing used by serial MCUs.
const (
	FrameHeaderSize  = 10
	FrameTrailerSize = 3
	FrameMax         = 4096
	FrameSync        = 0x7E

	// maxEmptyReads bounds consecutive zero-length reads, which is how
	// serial ports with a read timeout report silence.
	maxEmptyReads = 50
)

var (
	// ErrBadFrame indicates a malformed or corrupted frame.
	ErrBadFrame = errors.New("mbox: bad frame")

	// ErrClosed indicates the transport was closed.
	ErrClosed = errors.New("mbox: transport closed")
)

// Frame is one message on a stream. Requests and replies share the layout.
type Frame struct {
	Seq      uint8
	Header   Header
	Code     ResultCode
	ReplyCap uint16
	Payload  []byte
}

// MarshalFrame serializes f.
func MarshalFrame(f Frame) ([]byte, error) {
	n := FrameHeaderSize + len(f.Payload) + FrameTrailerSize
	if n > FrameMax {
		return nil, fmt.Errorf("%w: frame too long: %d bytes (max %d)", ErrBadFrame, n, FrameMax)
	}

	b := make([]byte, n)
	binary.LittleEndian.PutUint16(b[0:2], uint16(n))
	b[2] = f.Seq
	b[3] = f.Header.Coproc
	b[4] = f.Header.Msg
	binary.LittleEndian.PutUint16(b[5:7], f.Header.VFID)
	b[7] = byte(f.Code)
	binary.LittleEndian.PutUint16(b[8:10], f.ReplyCap)
	copy(b[FrameHeaderSize:], f.Payload)

	body := n - FrameTrailerSize
	crc := CRC16(b[:body])
	b[body] = uint8(crc >> 8)
	b[body+1] = uint8(crc)
	b[body+2] = FrameSync
	return b, nil
}

// ReadFrame reads and validates one frame from r.
func ReadFrame(ctx context.Context, r io.Reader) (Frame, error) {
	f, _, err := readFrame(ctx, r)
	return f, err
}

// readFrame is ReadFrame that also reports whether the stream lost framing:
// a read error after the first byte of a frame, or a frame that failed
// validation.
func readFrame(ctx context.Context, r io.Reader) (Frame, bool, error) {
	var lenBuf [2]byte
	if n, err := readFull(ctx, r, lenBuf[:]); err != nil {
		return Frame{}, n > 0, err
	}

	n := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if n < FrameHeaderSize+FrameTrailerSize || n > FrameMax {
		return Frame{}, true, fmt.Errorf("%w: length %d", ErrBadFrame, n)
	}

	b := make([]byte, n)
	copy(b, lenBuf[:])
	if _, err := readFull(ctx, r, b[2:]); err != nil {
		return Frame{}, true, err
	}

	body := n - FrameTrailerSize
	if b[n-1] != FrameSync {
		return Frame{}, true, fmt.Errorf("%w: missing sync byte", ErrBadFrame)
	}
	want := uint16(b[body])<<8 | uint16(b[body+1])
	if got := CRC16(b[:body]); got != want {
		return Frame{}, true, fmt.Errorf("%w: crc 0x%04x, want 0x%04x", ErrBadFrame, got, want)
	}

	hdr := Header{
		Coproc: b[3],
		Msg:    b[4],
		VFID:   binary.LittleEndian.Uint16(b[5:7]),
	}
	return Frame{
		Seq:      b[2],
		Header:   hdr,
		Code:     ResultCode(b[7]),
		ReplyCap: binary.LittleEndian.Uint16(b[8:10]),
		Payload:  b[FrameHeaderSize:body],
	}, false, nil
}

// WriteFrame serializes f and writes it to w in one call.
func WriteFrame(w io.Writer, f Frame) error {
	b, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	n, err := w.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(b))
	}
	return nil
}

// readFull fills buf and returns the number of bytes read.
func readFull(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	empty := 0
	for off := 0; off < len(buf); {
		n, err := r.Read(buf[off:])
		off += n
		if err != nil {
			if off == len(buf) {
				return off, nil
			}
			return off, err
		}
		if n > 0 {
			empty = 0
			continue
		}
		if err := ctx.Err(); err != nil {
			return off, err
		}
		empty++
		if empty > maxEmptyReads {
			return off, io.ErrNoProgress
		}
	}
	return len(buf), nil
}

// StreamTransport carries mailbox requests over a byte stream such as a
// serial port. One request is in flight at a time.
//
// A reply that arrives after its request timed out is discarded by the next
// Send. If the stream loses framing the transport is unusable and every
// later Send fails with ErrClosed.
type StreamTransport struct {
	mu     sync.Mutex
	rw     io.ReadWriteCloser
	seq    uint8
	closed bool
	broken bool
}

// NewStreamTransport wraps rw. The transport owns rw and closes it on Close.
func NewStreamTransport(rw io.ReadWriteCloser) *StreamTransport {
	return &StreamTransport{rw: rw}
}

// Send writes req and waits for the matching reply.
// ctx is honored before the write. While waiting, a Read that blocks is not
// interrupted; only reads that return no data, as a serial port with a read
// timeout does, observe cancellation.
func (t *StreamTransport) Send(ctx context.Context, req Request) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Response{}, transportErrorf("%v", ErrClosed)
	}
	if t.broken {
		return Response{}, transportErrorf("%v: stream lost framing", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return Response{}, transportErrorf("send msg %d: %v", req.Header.Msg, err)
	}
	if req.ReplyCap < 0 || req.ReplyCap > FrameMax {
		return Response{}, transportErrorf("reply capacity %d out of range", req.ReplyCap)
	}

	t.seq++
	err := WriteFrame(t.rw, Frame{
		Seq:      t.seq,
		Header:   req.Header,
		ReplyCap: uint16(req.ReplyCap),
		Payload:  req.Payload,
	})
	if err != nil {
		return Response{}, transportErrorf("send msg %d: %v", req.Header.Msg, err)
	}

	reply, err := t.awaitReply(ctx)
	if err != nil {
		return Response{}, transportErrorf("await msg %d: %v", req.Header.Msg, err)
	}

	data := reply.Payload
	if len(data) > req.ReplyCap {
		data = data[:req.ReplyCap]
	}
	return Response{Code: reply.Code, Data: data}, nil
}

// awaitReply reads frames until the reply to t.seq arrives, dropping replies
// to earlier requests. Caller holds mu.
func (t *StreamTransport) awaitReply(ctx context.Context) (Frame, error) {
	for {
		reply, lost, err := readFrame(ctx, t.rw)
		if err != nil {
			if lost {
				t.broken = true
			}
			return Frame{}, err
		}

		switch age := int8(t.seq - reply.Seq); {
		case age == 0:
			return reply, nil
		case age > 0:
			continue
		default:
			t.broken = true
			return Frame{}, fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", t.seq, reply.Seq)
		}
	}
}

// Close closes the underlying stream.
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	return t.rw.Close()
}
