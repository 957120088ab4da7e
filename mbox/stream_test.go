package mbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
	a := CRC16([]byte("timer ring"))
	b := CRC16([]byte("timer rinh"))
	assert.NotEqual(t, a, b)
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Seq:      7,
		Header:   Header{Coproc: CoprocTimer, Msg: MsgSetRingInfo, VFID: 3},
		Code:     ResultInvalid,
		ReplyCap: 40,
		Payload:  []byte{1, 2, 3, 4},
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = WriteFrame(client, f)
	}()

	got, err := ReadFrame(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestReadFrameRejectsCorruption(t *testing.T) {
	b, err := MarshalFrame(Frame{Seq: 1, Header: Header{Coproc: CoprocTimer, Msg: MsgGetDevInfo}})
	require.NoError(t, err)
	b[4] ^= 0xFF

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_, _ = client.Write(b)
	}()

	_, err = ReadFrame(context.Background(), server)
	assert.ErrorIs(t, err, ErrBadFrame)
}

func TestMarshalFrameTooLong(t *testing.T) {
	_, err := MarshalFrame(Frame{Payload: make([]byte, FrameMax)})
	assert.ErrorIs(t, err, ErrBadFrame)
}

// serveOnce answers one request on conn with the reply built by handle.
func serveOnce(t *testing.T, conn net.Conn, handle func(Frame) Frame) {
	t.Helper()
	go func() {
		req, err := ReadFrame(context.Background(), conn)
		if err != nil {
			return
		}
		_ = WriteFrame(conn, handle(req))
	}()
}

func TestStreamTransportSend(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewStreamTransport(client)
	defer tr.Close()

	serveOnce(t, server, func(req Frame) Frame {
		assert.Equal(t, MsgRingStartCycGet, req.Header.Msg)
		assert.Equal(t, uint16(5), req.Header.VFID)
		assert.Equal(t, uint16(StartCycleSize), req.ReplyCap)
		return Frame{Seq: req.Seq, Header: req.Header, Code: ResultSuccess, Payload: EncodeStartCycle(99)}
	})

	resp, err := tr.Send(context.Background(), TimerRequest(MsgRingStartCycGet, 5, nil, StartCycleSize))
	require.NoError(t, err)
	assert.True(t, resp.OK())

	cyc, err := DecodeStartCycle(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), cyc)
}

func TestStreamTransportTruncatesToReplyCap(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewStreamTransport(client)
	defer tr.Close()

	serveOnce(t, server, func(req Frame) Frame {
		return Frame{Seq: req.Seq, Header: req.Header, Payload: make([]byte, 64)}
	})

	resp, err := tr.Send(context.Background(), TimerRequest(MsgGetDevInfo, 0, nil, DevInfoSize))
	require.NoError(t, err)
	assert.Len(t, resp.Data, DevInfoSize)
}

func TestStreamTransportSequenceMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewStreamTransport(client)
	defer tr.Close()

	serveOnce(t, server, func(req Frame) Frame {
		return Frame{Seq: req.Seq + 1, Header: req.Header}
	})

	_, err := tr.Send(context.Background(), TimerRequest(MsgGetDevInfo, 0, nil, DevInfoSize))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestStreamTransportCanceledContext(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewStreamTransport(client)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Send(ctx, TimerRequest(MsgGetDevInfo, 0, nil, DevInfoSize))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestStreamTransportClosed(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewStreamTransport(client)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Send(context.Background(), TimerRequest(MsgGetDevInfo, 0, nil, DevInfoSize))
	assert.True(t, errors.Is(err, ErrTransport))
}

func TestTransportFunc(t *testing.T) {
	var got Request
	tr := TransportFunc(func(ctx context.Context, req Request) (Response, error) {
		got = req
		return Response{Code: ResultInternalErr}, nil
	})

	resp, err := tr.Send(context.Background(), TimerRequest(MsgSetRingInfo, 2, []byte{1}, 0))
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, Header{Coproc: CoprocTimer, Msg: MsgSetRingInfo, VFID: 2}, got.Header)
}

// timeoutLink is an in-memory coprocessor end that answers start-cycle
// requests with the request's sequence number. Reads with nothing buffered
// return no data, like a serial port whose read timeout expired.
type timeoutLink struct {
	mu      sync.Mutex
	out     bytes.Buffer
	held    []byte
	hold    bool
	holdSeq uint8
	cut     int
}

func (l *timeoutLink) Write(p []byte) (int, error) {
	req, err := ReadFrame(context.Background(), bytes.NewReader(p))
	if err != nil {
		return 0, err
	}
	reply, err := MarshalFrame(Frame{
		Seq:     req.Seq,
		Header:  req.Header,
		Code:    ResultSuccess,
		Payload: EncodeStartCycle(uint64(req.Seq)),
	})
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.hold && req.Seq == l.holdSeq:
		l.held = reply
	case l.cut > 0:
		l.out.Write(reply[:l.cut])
		l.cut = 0
	default:
		l.out.Write(l.held)
		l.held = nil
		l.out.Write(reply)
	}
	return len(p), nil
}

func (l *timeoutLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out.Len() == 0 {
		return 0, nil
	}
	return l.out.Read(p)
}

func (l *timeoutLink) Close() error { return nil }

func TestStreamTransportDropsLateReply(t *testing.T) {
	tr := NewStreamTransport(&timeoutLink{hold: true, holdSeq: 1})
	ctx := context.Background()
	req := TimerRequest(MsgRingStartCycGet, 0, nil, StartCycleSize)

	// The reply to the first request only shows up with the second one.
	_, err := tr.Send(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	for seq := uint64(2); seq <= 5; seq++ {
		resp, err := tr.Send(ctx, req)
		require.NoError(t, err, "send %d", seq)

		cyc, err := DecodeStartCycle(resp.Data)
		require.NoError(t, err)
		assert.Equal(t, seq, cyc)
	}
}

func TestStreamTransportSequenceWraps(t *testing.T) {
	tr := NewStreamTransport(&timeoutLink{})
	req := TimerRequest(MsgRingStartCycGet, 0, nil, StartCycleSize)

	for i := 0; i < 300; i++ {
		resp, err := tr.Send(context.Background(), req)
		require.NoError(t, err)

		cyc, err := DecodeStartCycle(resp.Data)
		require.NoError(t, err)
		assert.Equal(t, uint64(uint8(i+1)), cyc)
	}
}

func TestStreamTransportBrokenAfterPartialFrame(t *testing.T) {
	tr := NewStreamTransport(&timeoutLink{cut: 5})
	req := TimerRequest(MsgRingStartCycGet, 0, nil, StartCycleSize)

	_, err := tr.Send(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), io.ErrNoProgress.Error())

	_, err = tr.Send(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), ErrClosed.Error())
}
