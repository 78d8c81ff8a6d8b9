package mob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	for v := uint16(0); v <= IDMask; v++ {
		hi, lo := SplitID(v)
		if got := JoinID(hi, lo); got != v {
			t.Fatalf("round trip 0x%03X: got 0x%03X (hi=%02X lo=%02X)", v, got, hi, lo)
		}
	}
}

func TestSplitIDLayout(t *testing.T) {
	assert := assert.New(t)

	hi, lo := SplitID(0x123)
	assert.Equal(uint8(0x24), hi)
	assert.Equal(uint8(0x60), lo)

	hi, lo = SplitID(0x7FF)
	assert.Equal(uint8(0xFF), hi)
	assert.Equal(uint8(0xE0), lo)

	// Bits above the identifier are dropped.
	hi, lo = SplitID(0xF800 | 0x001)
	assert.Equal(uint8(0x00), hi)
	assert.Equal(uint8(0x20), lo)
}

func TestJoinIDIgnoresTagBits(t *testing.T) {
	assert.Equal(t, uint16(0x123), JoinID(0x24, 0x60|0x1F))
}

func TestMatch(t *testing.T) {
	assert := assert.New(t)

	m := MessageObject{ID: 0x100, Mask: 0x7FF, Mode: ReceiveEnabled}
	assert.True(m.Match(0x100))
	assert.False(m.Match(0x101))

	m.Mask = 0x7F0
	assert.True(m.Match(0x10F))
	assert.False(m.Match(0x110))

	m.Mask = 0
	assert.True(m.Match(0x555), "zero mask accepts everything")
}

func TestBankBounds(t *testing.T) {
	assert := assert.New(t)

	var b Bank
	b.Set(5, MessageObject{ID: 0x42})
	assert.Equal(uint16(0x42), b.Get(5).ID)

	assert.Panics(func() { b.Get(6) })
	assert.Panics(func() { b.Set(-1, MessageObject{}) })
	assert.Panics(func() { b.At(7) })
}

func TestBankEnabled(t *testing.T) {
	var b Bank
	b.At(0).Mode = ReceiveEnabled
	b.At(3).Mode = TransmitEnabled
	assert.Equal(t, uint8(0b1001), b.Enabled())
}

func TestLenClamp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint8(4), MessageObject{DLC: 4}.Len())
	assert.Equal(uint8(8), MessageObject{DLC: 15}.Len())
}

func TestModeString(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("tx", TransmitEnabled.String())
	assert.Equal("rx_buffer", ReceiveBufferEnabled.String())
	assert.Equal("mode(7)", Mode(7).String())
}
