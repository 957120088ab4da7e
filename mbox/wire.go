package mbox

import (
	"encoding/binary"
	"fmt"
)

// Payload sizes on the wire. All multi-byte fields are little-endian.
const (
	DevInfoSize    = 40 // ring_active[4] u64, clk_freq u64
	CtrlRegSize    = 24 // ctrl0, ctrl1, ctrl2 u64
	StartCycleSize = 8
)

// Control register bit layout.
//
//	ctrl0  [63:0]   tick interval in coprocessor cycles
//	ctrl1  [63:51]  clock source selector
//	       [48]     hardware bucket lock enable
//	       [47]     ring enable
//	       [44]     write buffering (LDWB) enable
//	       [43:0]   bucket count - 1
//	ctrl2  [48:40]  chunk size in 16-byte units
//
// The chunk size field is nine bits wide so that the 4096-byte default
// (256 units) is encoded exactly as the coprocessor firmware expects.
const (
	Ctrl1ClockShift      = 51
	Ctrl1ClockMask       = 0x1FFF
	Ctrl1BucketLockBit   = 48
	Ctrl1EnableBit       = 47
	Ctrl1WriteBufferBit  = 44
	Ctrl1BucketsMask     = 1<<44 - 1
	Ctrl2ChunkSizeShift  = 40
	Ctrl2ChunkSizeMask   = 0x1FF
	ChunkSizeUnit        = 16
	MaxBucketsEncodeable = Ctrl1BucketsMask + 1
)

// CtrlReg is the control register triple of one ring.
type CtrlReg struct {
	Ctrl0 uint64
	Ctrl1 uint64
	Ctrl2 uint64
}

// Ctrl1Fields is the unpacked form of ctrl1.
type Ctrl1Fields struct {
	ClockSelector uint16
	BucketLock    bool
	Enable        bool
	WriteBuffer   bool
	Buckets       uint64
}

// PackCtrl1 encodes f. Buckets must be at least 1; out-of-range fields are
// masked to their width.
func PackCtrl1(f Ctrl1Fields) uint64 {
	v := (uint64(f.ClockSelector) & Ctrl1ClockMask) << Ctrl1ClockShift
	v |= boolBit(f.BucketLock, Ctrl1BucketLockBit)
	v |= boolBit(f.Enable, Ctrl1EnableBit)
	v |= boolBit(f.WriteBuffer, Ctrl1WriteBufferBit)
	v |= (f.Buckets - 1) & Ctrl1BucketsMask
	return v
}

// UnpackCtrl1 decodes a ctrl1 value.
func UnpackCtrl1(v uint64) Ctrl1Fields {
	return Ctrl1Fields{
		ClockSelector: uint16((v >> Ctrl1ClockShift) & Ctrl1ClockMask),
		BucketLock:    v&(1<<Ctrl1BucketLockBit) != 0,
		Enable:        v&(1<<Ctrl1EnableBit) != 0,
		WriteBuffer:   v&(1<<Ctrl1WriteBufferBit) != 0,
		Buckets:       (v & Ctrl1BucketsMask) + 1,
	}
}

// PackCtrl2 encodes a chunk size in bytes.
func PackCtrl2(chunkSize uint64) uint64 {
	return ((chunkSize / ChunkSizeUnit) & Ctrl2ChunkSizeMask) << Ctrl2ChunkSizeShift
}

// UnpackCtrl2 returns the chunk size in bytes.
func UnpackCtrl2(v uint64) uint64 {
	return ((v >> Ctrl2ChunkSizeShift) & Ctrl2ChunkSizeMask) * ChunkSizeUnit
}

// Enabled reports whether the ring enable bit is set.
func (c CtrlReg) Enabled() bool {
	return c.Ctrl1&(1<<Ctrl1EnableBit) != 0
}

// Disabled returns a copy of c with the ring enable bit cleared.
func (c CtrlReg) Disabled() CtrlReg {
	c.Ctrl1 &^= 1 << Ctrl1EnableBit
	return c
}

// Bytes serializes the triple.
// Format: [ctrl0:8][ctrl1:8][ctrl2:8]
func (c CtrlReg) Bytes() []byte {
	b := make([]byte, CtrlRegSize)
	binary.LittleEndian.PutUint64(b[0:8], c.Ctrl0)
	binary.LittleEndian.PutUint64(b[8:16], c.Ctrl1)
	binary.LittleEndian.PutUint64(b[16:24], c.Ctrl2)
	return b
}

// DecodeCtrlReg parses a serialized triple.
func DecodeCtrlReg(b []byte) (CtrlReg, error) {
	if len(b) != CtrlRegSize {
		return CtrlReg{}, fmt.Errorf("ctrl reg: got %d bytes, want %d", len(b), CtrlRegSize)
	}
	return CtrlReg{
		Ctrl0: binary.LittleEndian.Uint64(b[0:8]),
		Ctrl1: binary.LittleEndian.Uint64(b[8:16]),
		Ctrl2: binary.LittleEndian.Uint64(b[16:24]),
	}, nil
}

// DevInfo is the timer coprocessor's device-info reply.
type DevInfo struct {
	RingActive [4]uint64
	ClockHz    uint64
}

// Bytes serializes the reply.
// Format: [ring_active:4x8][clk_freq:8]
func (d DevInfo) Bytes() []byte {
	b := make([]byte, DevInfoSize)
	for i, v := range d.RingActive {
		binary.LittleEndian.PutUint64(b[i*8:], v)
	}
	binary.LittleEndian.PutUint64(b[32:40], d.ClockHz)
	return b
}

// RingIsActive reports whether ring's bit is set in the activity bitmap.
func (d DevInfo) RingIsActive(ring uint8) bool {
	return d.RingActive[ring/64]&(1<<(ring%64)) != 0
}

// DecodeDevInfo parses a device-info reply. The size must match exactly.
func DecodeDevInfo(b []byte) (DevInfo, error) {
	if len(b) != DevInfoSize {
		return DevInfo{}, fmt.Errorf("dev info: got %d bytes, want %d", len(b), DevInfoSize)
	}
	var d DevInfo
	for i := range d.RingActive {
		d.RingActive[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	d.ClockHz = binary.LittleEndian.Uint64(b[32:40])
	return d, nil
}

// EncodeStartCycle serializes a start-cycle reply.
func EncodeStartCycle(cyc uint64) []byte {
	b := make([]byte, StartCycleSize)
	binary.LittleEndian.PutUint64(b, cyc)
	return b
}

// DecodeStartCycle parses a start-cycle reply.
func DecodeStartCycle(b []byte) (uint64, error) {
	if len(b) != StartCycleSize {
		return 0, fmt.Errorf("start cycle: got %d bytes, want %d", len(b), StartCycleSize)
	}
	return binary.LittleEndian.Uint64(b), nil
}

func boolBit(set bool, bit uint) uint64 {
	if set {
		return 1 << bit
	}
	return 0
}
