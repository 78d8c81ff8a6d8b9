package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/metrics"
)

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = id
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func TestEncode(t *testing.T) {
	cases := []struct {
		in   can.Frame
		want string
	}{
		{f(0x123, 1, 2, 3, 4), "t12341020304\r"},
		{f(0x7FF), "t7FF0\r"},
		{f(can.CAN_EFF_FLAG|0x1ABCDE, 0xDE, 0xAD), "T001ABCDE2DEAD\r"},
		{can.Frame{CANID: can.CAN_RTR_FLAG | 0x100, Len: 2}, "r1002\r"},
	}
	for _, c := range cases {
		if got := string(Codec{}.Encode(c.in)); got != c.want {
			t.Fatalf("Encode(%+v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeClampsLen(t *testing.T) {
	fr := f(0x10, 1, 2, 3, 4, 5, 6, 7, 8)
	fr.Len = 12
	if got := string(Codec{}.Encode(fr)); got != "t01080102030405060708\r" {
		t.Fatalf("got %q", got)
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, line := range []string{"", "x123", "t12", "t1239", "t12310", "tFFF0", "t1231ZZ", "r1001AA", "T2FFFFFFF0"} {
		if _, err := (Codec{}).Decode([]byte(line)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) err = %v, want ErrMalformed", line, err)
		}
	}
}

func TestCodecRoundTripChunked(t *testing.T) {
	codec := Codec{}
	want := []can.Frame{
		f(0x100, 0xAA, 0xBB),
		f(0x7FF, 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7),
		f(can.CAN_EFF_FLAG|0x0123456, 0x9A, 0xBC),
		f(0x001),
		{CANID: can.CAN_RTR_FLAG | 0x200, Len: 3},
	}
	stream := make([]byte, 0, 256)
	for _, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
		stream = append(stream, "z\r"...) // transmit acks interleave with traffic
	}

	var buf bytes.Buffer
	var got []can.Frame
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n
		if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d mismatch\n got  %+v\n want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeStreamMalformed(t *testing.T) {
	before := metrics.Snap().Errors
	var buf bytes.Buffer
	buf.WriteString("\at12G1AA\rt1001BB\r")
	var got []can.Frame
	_ = Codec{}.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) })
	if len(got) != 1 || got[0] != f(0x100, 0xBB) {
		t.Fatalf("expected resync on the valid line, got %+v", got)
	}
	if after := metrics.Snap().Errors; after != before+2 {
		t.Fatalf("expected 2 malformed counts, before=%d after=%d", before, after)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not drained: %q", buf.String())
	}
}

func TestDecodeStreamDropsRunaway(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("t1008" + string(bytes.Repeat([]byte("0"), 40)))
	_ = Codec{}.DecodeStream(&buf, func(can.Frame) { t.Fatalf("unexpected frame") })
	if buf.Len() != 0 {
		t.Fatalf("runaway line kept: %d bytes", buf.Len())
	}
}

func TestBitrateCommand(t *testing.T) {
	cmd, err := BitrateCommand(500000)
	if err != nil || string(cmd) != "S6\r" {
		t.Fatalf("got %q, %v", cmd, err)
	}
	if _, err := BitrateCommand(33333); err == nil {
		t.Fatalf("expected error for unsupported bitrate")
	}
}
