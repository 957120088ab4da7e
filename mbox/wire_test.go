package mbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPackCtrl1BitExact checks the packed layout against the raw bit positions.
func TestPackCtrl1BitExact(t *testing.T) {
	got := PackCtrl1(Ctrl1Fields{
		ClockSelector: 2,
		BucketLock:    true,
		Enable:        true,
		WriteBuffer:   true,
		Buckets:       1000,
	})

	want := uint64(2)<<51 | 1<<48 | 1<<47 | 1<<44 | 999
	assert.Equal(t, want, got)
}

func TestCtrl1RoundTrip(t *testing.T) {
	tests := []Ctrl1Fields{
		{ClockSelector: 0, Buckets: 1},
		{ClockSelector: 3, Enable: true, Buckets: 1 << 20},
		{ClockSelector: 1, BucketLock: true, WriteBuffer: true, Buckets: MaxBucketsEncodeable},
	}

	for _, f := range tests {
		assert.Equal(t, f, UnpackCtrl1(PackCtrl1(f)))
	}
}

func TestPackCtrl1MasksBucketField(t *testing.T) {
	v := PackCtrl1(Ctrl1Fields{Buckets: MaxBucketsEncodeable + 1})
	assert.Equal(t, uint64(0), v&(1<<Ctrl1WriteBufferBit), "bucket count must not spill into flag bits")
}

func TestCtrl2ChunkSize(t *testing.T) {
	assert.Equal(t, uint64(4096/16)<<40, PackCtrl2(4096))
	assert.Equal(t, uint64(4096), UnpackCtrl2(PackCtrl2(4096)))
	assert.Equal(t, uint64(1024), UnpackCtrl2(PackCtrl2(1024)))
}

func TestCtrl2ChunkSizeFieldWidth(t *testing.T) {
	const low8 = uint64(0xFF) << Ctrl2ChunkSizeShift

	for size := uint64(ChunkSizeUnit); size <= 4080; size += ChunkSizeUnit {
		v := PackCtrl2(size)
		assert.Zero(t, v&^low8, "chunk size %d escapes bits [47:40]", size)
		assert.Equal(t, size, UnpackCtrl2(v))
	}

	// Only the 4096-byte default reaches bit 48.
	assert.Equal(t, uint64(1)<<48, PackCtrl2(4096))
}

func TestCtrlRegEnableBit(t *testing.T) {
	c := CtrlReg{Ctrl0: 5, Ctrl1: PackCtrl1(Ctrl1Fields{Enable: true, BucketLock: true, Buckets: 8}), Ctrl2: 7}
	assert.True(t, c.Enabled())

	d := c.Disabled()
	assert.False(t, d.Enabled())
	assert.True(t, c.Enabled(), "Disabled must not modify the receiver")
	assert.Equal(t, c.Ctrl0, d.Ctrl0)
	assert.Equal(t, c.Ctrl2, d.Ctrl2)
	assert.Equal(t, c.Ctrl1&^(1<<47), d.Ctrl1)
}

func TestCtrlRegBytes(t *testing.T) {
	c := CtrlReg{Ctrl0: 0x0102030405060708, Ctrl1: 1, Ctrl2: 1 << 63}
	b := c.Bytes()
	require.Len(t, b, CtrlRegSize)
	assert.Equal(t, byte(0x08), b[0], "ctrl0 is little-endian")
	assert.Equal(t, byte(0x01), b[8])
	assert.Equal(t, byte(0x80), b[23])

	back, err := DecodeCtrlReg(b)
	require.NoError(t, err)
	assert.Equal(t, c, back)

	_, err = DecodeCtrlReg(b[:20])
	assert.Error(t, err)
}

func TestDevInfoDecode(t *testing.T) {
	d := DevInfo{RingActive: [4]uint64{1 << 3, 0, 0, 1 << 63}, ClockHz: 800_000_000}
	back, err := DecodeDevInfo(d.Bytes())
	require.NoError(t, err)
	assert.Equal(t, d, back)

	assert.True(t, back.RingIsActive(3))
	assert.False(t, back.RingIsActive(4))
	assert.True(t, back.RingIsActive(255))
}

func TestDevInfoSizeMismatch(t *testing.T) {
	d := DevInfo{ClockHz: 1}
	_, err := DecodeDevInfo(d.Bytes()[:DevInfoSize-8])
	assert.Error(t, err)

	_, err = DecodeDevInfo(append(d.Bytes(), 0))
	assert.Error(t, err)
}

func TestStartCycle(t *testing.T) {
	cyc, err := DecodeStartCycle(EncodeStartCycle(123456789))
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), cyc)

	_, err = DecodeStartCycle([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestResultCodeString(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "invalid", ResultInvalid.String())
	assert.Equal(t, "internal-error", ResultInternalErr.String())
	assert.Equal(t, "result(9)", ResultCode(9).String())
}
