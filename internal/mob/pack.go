package mob

// Identifier and mask registers hold an 11-bit value split over two bytes:
//
//	CANIDT1 / CANIDM1: bits 10..3 of the value
//	CANIDT2 / CANIDM2: bits  2..0 of the value in register bits 7..5
//
// The low five bits of the second register (RTRTAG, RB0TAG, ...) are not part
// of the identifier and are ignored by JoinID.

// IDMask covers the 11 identifier bits.
const IDMask = 0x7FF

// SplitID packs an 11-bit value into its high and low register bytes.
func SplitID(v uint16) (hi, lo uint8) {
	v &= IDMask
	return uint8(v >> 3), uint8(v << 5)
}

// JoinID rebuilds the 11-bit value from its high and low register bytes.
func JoinID(hi, lo uint8) uint16 {
	return (uint16(hi)<<3 | uint16(lo)>>5) & IDMask
}
