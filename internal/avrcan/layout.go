package avrcan

import (
	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/mob"
)

// Layout gives the data-space addresses of the CAN controller registers.
// Parts of the same family share bit layouts but not always addresses.
type Layout struct {
	CANGCON  avr.Addr
	CANGSTA  avr.Addr
	CANEN2   avr.Addr
	CANEN1   avr.Addr
	CANPAGE  avr.Addr
	CANSTMOB avr.Addr
	CANCDMOB avr.Addr
	CANIDT   [4]avr.Addr // CANIDT1..CANIDT4
	CANIDM   [4]avr.Addr // CANIDM1..CANIDM4
	CANMSG   avr.Addr
}

// ATmega16M1 is the register map of the ATmega16M1/32M1/64M1.
var ATmega16M1 = Layout{
	CANGCON:  0xD8,
	CANGSTA:  0xD9,
	CANEN2:   0xDC,
	CANEN1:   0xDD,
	CANPAGE:  0xED,
	CANSTMOB: 0xEE,
	CANCDMOB: 0xEF,
	CANIDT:   [4]avr.Addr{0xF3, 0xF2, 0xF1, 0xF0},
	CANIDM:   [4]avr.Addr{0xF7, 0xF6, 0xF5, 0xF4},
	CANMSG:   0xFA,
}

// Names maps datasheet register names to addresses.
func (l Layout) Names() map[string]avr.Addr {
	return map[string]avr.Addr{
		"CANGCON":  l.CANGCON,
		"CANGSTA":  l.CANGSTA,
		"CANEN2":   l.CANEN2,
		"CANEN1":   l.CANEN1,
		"CANPAGE":  l.CANPAGE,
		"CANSTMOB": l.CANSTMOB,
		"CANCDMOB": l.CANCDMOB,
		"CANIDT1":  l.CANIDT[0],
		"CANIDT2":  l.CANIDT[1],
		"CANIDT3":  l.CANIDT[2],
		"CANIDT4":  l.CANIDT[3],
		"CANIDM1":  l.CANIDM[0],
		"CANIDM2":  l.CANIDM[1],
		"CANIDM3":  l.CANIDM[2],
		"CANIDM4":  l.CANIDM[3],
		"CANMSG":   l.CANMSG,
	}
}

// Lookup resolves a register name to its address.
func (l Layout) Lookup(name string) (avr.Addr, bool) {
	a, ok := l.Names()[name]
	return a, ok
}

// Register bit fields.
const (
	// CANGCON
	gconSWRES = 0x01

	// CANGSTA
	gstaTXBSY = 0x10

	// CANPAGE
	pageMOBNB      = 0x70
	pageMOBNBShift = 4
	pageAINC       = 0x08
	pageINDX       = 0x07

	// CANSTMOB
	stmobTXOK = 0x40
	stmobRXOK = 0x20

	// CANCDMOB
	cdmobCONMOB      = 0xC0
	cdmobCONMOBShift = 6
	cdmobDLC         = 0x0F
)

// Page builds a CANPAGE value.
func Page(mobnb int, ainc bool, indx uint8) uint8 {
	v := uint8(mobnb)<<pageMOBNBShift&pageMOBNB | indx&pageINDX
	if ainc {
		v |= pageAINC
	}
	return v
}

// CDMOB builds a CANCDMOB value from a CONMOB mode and DLC.
func CDMOB(mode mob.Mode, dlc uint8) uint8 {
	return uint8(mode)<<cdmobCONMOBShift&cdmobCONMOB | dlc&cdmobDLC
}
