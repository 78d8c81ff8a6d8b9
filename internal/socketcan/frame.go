package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kstaniek/go-avr-can/internal/can"
)

// FrameSize is sizeof(struct can_frame) (CAN_MTU).
const FrameSize = 16

var (
	// ErrShortWrite reports that the kernel accepted fewer bytes than a
	// whole can_frame. The frame is lost but the socket stays usable.
	ErrShortWrite = errors.New("socketcan: short write")
	// ErrShortRead reports a datagram that is not a classic can_frame.
	ErrShortRead = errors.New("socketcan: short read")
)

// Marshal encodes fr as struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// Fields are host byte order; every supported linux target is little-endian.
func Marshal(fr can.Frame, buf *[FrameSize]byte) {
	*buf = [FrameSize]byte{}
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	p := fr.Payload()
	buf[4] = uint8(len(p))
	copy(buf[8:], p)
}

// Unmarshal decodes one can_frame read from the socket.
func Unmarshal(b []byte, fr *can.Frame) error {
	if len(b) != FrameSize {
		return fmt.Errorf("%w: %d bytes", ErrShortRead, len(b))
	}
	n := b[4]
	if n > can.MaxLen {
		n = can.MaxLen
	}
	*fr = can.Frame{CANID: binary.LittleEndian.Uint32(b[0:4]), Len: n}
	copy(fr.Data[:], b[8:8+int(n)])
	return nil
}
