package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// MaxLen is the classic CAN payload limit.
const MaxLen = 8

// Frame is a classic CAN frame as exchanged between the emulated controller
// and the host network. CANID carries EFF/RTR/ERR flags in its upper bits like
// SocketCAN; the emulated controller only produces and accepts standard
// (11-bit) identifiers. Only the first Len bytes of Data are valid.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [MaxLen]byte
}

// StdID returns the 11-bit standard identifier carried by the frame.
func (f Frame) StdID() uint16 { return uint16(f.CANID & CAN_SFF_MASK) }

// Payload returns the valid data bytes (Len clamped to MaxLen).
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > MaxLen {
		n = MaxLen
	}
	return f.Data[:n]
}

// IsStandard reports whether the frame is a plain standard data frame.
func (f Frame) IsStandard() bool {
	return f.CANID&(CAN_EFF_FLAG|CAN_RTR_FLAG|CAN_ERR_FLAG) == 0
}
