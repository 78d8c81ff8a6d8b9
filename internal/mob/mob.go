// Package mob models the message objects (MObs) of the AVR CAN controller.
//
// A Bank holds the six mailboxes of the ATmega16M1/32M1/64M1 family. It is
// plain state: callers (the register interface) validate mailbox numbers
// decoded from CANPAGE before touching the bank, and an out of range index
// is treated as a programming error.
package mob

import "fmt"

// Count is the number of message objects on the emulated part.
const Count = 6

// Mode is the CONMOB field of CANCDMOB (bits 7..6).
type Mode uint8

const (
	Disabled Mode = iota
	TransmitEnabled
	ReceiveEnabled
	ReceiveBufferEnabled
)

func (m Mode) String() string {
	switch m {
	case Disabled:
		return "disabled"
	case TransmitEnabled:
		return "tx"
	case ReceiveEnabled:
		return "rx"
	case ReceiveBufferEnabled:
		return "rx_buffer"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// MessageObject is one mailbox.
type MessageObject struct {
	ID    uint16 // 11-bit identifier
	Mask  uint16 // 11-bit acceptance mask, used in ReceiveEnabled mode
	Data  [8]byte
	DLC   uint8 // 0..8 valid bytes; firmware may write up to 15
	Index uint8 // data cursor 0..7
	Mode  Mode
}

// Enabled mirrors the read-only ENMOB bit in CANEN1/CANEN2.
func (m MessageObject) Enabled() bool { return m.Mode != Disabled }

// Len returns DLC clamped to the classic CAN payload size.
func (m MessageObject) Len() uint8 {
	if m.DLC > 8 {
		return 8
	}
	return m.DLC
}

// Match reports whether id passes this mailbox's acceptance filter.
func (m MessageObject) Match(id uint16) bool {
	return (id & m.Mask) == (m.ID & m.Mask)
}

// Bank is the fixed set of message objects.
type Bank [Count]MessageObject

func check(i int) {
	if i < 0 || i >= Count {
		panic(fmt.Sprintf("mob: index %d out of range [0,%d)", i, Count))
	}
}

// Valid reports whether i addresses a mailbox.
func Valid(i int) bool { return i >= 0 && i < Count }

// Get returns a copy of mailbox i.
func (b *Bank) Get(i int) MessageObject {
	check(i)
	return b[i]
}

// Set replaces mailbox i.
func (b *Bank) Set(i int, m MessageObject) {
	check(i)
	b[i] = m
}

// At returns a pointer to mailbox i for in-place updates.
func (b *Bank) At(i int) *MessageObject {
	check(i)
	return &b[i]
}

// Enabled returns the ENMOB bitmap (bit i set when mailbox i is enabled).
func (b *Bank) Enabled() uint8 {
	var bits uint8
	for i := range b {
		if b[i].Enabled() {
			bits |= 1 << i
		}
	}
	return bits
}
