// Package avrcan implements the register interface of the AVR CAN controller.
//
// The controller keeps the shadow registers firmware sees (CANPAGE,
// CANCDMOB, CANIDTn, CANIDMn, ...) and swaps them in and out of the mailbox
// bank when CANPAGE selects a different message object. Writes arrive through
// avr.Core register hooks on the simulation goroutine; host-side requests
// (send lookup, receive match) arrive through Core.Ioctl from other
// goroutines, so all state sits behind one mutex. IRQs are raised after the
// mutex is released, which lets listeners issue ioctls from inside the hook.
package avrcan

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/logging"
	"github.com/kstaniek/go-avr-can/internal/metrics"
	"github.com/kstaniek/go-avr-can/internal/mob"
)

// IoctlGetIRQ names the controller's IRQ lines on the core.
var IoctlGetIRQ = avr.IoctlDef('c', 'a', 'n', ' ')

// IRQ indexes under IoctlGetIRQ. The raised value is the mailbox number.
const (
	IRQTransmit = iota
	IRQReceive
	IRQMailboxSwitch
	irqCount
)

var irqNames = [irqCount]string{
	IRQTransmit:      "can<out",
	IRQReceive:       "can<in",
	IRQMailboxSwitch: "can<mob",
}

// Controller is the CAN peripheral instance attached to one core.
type Controller struct {
	mu     sync.Mutex
	layout Layout
	logger *slog.Logger

	bank   mob.Bank
	status [mob.Count]uint8 // per-mailbox CANSTMOB
	busy   uint8            // per-mailbox TX busy bits, backs CANGSTA.TXBSY

	gcon  uint8
	page  uint8
	cdmob uint8
	idt   [4]uint8
	idm   [4]uint8

	irq [irqCount]*avr.IRQ
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for controller trace events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates the controller and registers its hooks on core.
func New(core *avr.Core, layout Layout, opts ...Option) *Controller {
	c := &Controller{layout: layout, logger: logging.Component("avrcan")}
	for _, o := range opts {
		o(c)
	}
	for i := range c.irq {
		c.irq[i] = core.IRQ(IoctlGetIRQ, i)
		c.irq[i].Name = irqNames[i]
	}
	c.page = pageAINC

	core.RegisterIO(c)
	core.RegisterIOWrite(layout.CANMSG, c.writeData)
	core.RegisterIOWrite(layout.CANCDMOB, c.writeConfig)
	core.RegisterIOWrite(layout.CANPAGE, c.writeMobNumber)
	core.RegisterIOWrite(layout.CANGCON, c.writeGlobalControl)
	core.RegisterIOWrite(layout.CANSTMOB, c.writeStatus)
	for i := range layout.CANIDT {
		core.RegisterIOWrite(layout.CANIDT[i], c.writeShadow(&c.idt[i]))
		core.RegisterIOWrite(layout.CANIDM[i], c.writeShadow(&c.idm[i]))
	}
	// Enable bits are status only on the real part.
	core.RegisterIOWrite(layout.CANEN1, func(avr.Addr, uint8) {})
	core.RegisterIOWrite(layout.CANEN2, func(avr.Addr, uint8) {})

	core.RegisterIORead(layout.CANMSG, c.readData)
	for addr, fn := range map[avr.Addr]func() uint8{
		layout.CANGCON:   func() uint8 { return c.gcon },
		layout.CANGSTA:   c.gsta,
		layout.CANEN1:    func() uint8 { return 0 },
		layout.CANEN2:    c.bank.Enabled,
		layout.CANPAGE:   func() uint8 { return c.page },
		layout.CANSTMOB:  func() uint8 { return c.status[c.current()] },
		layout.CANCDMOB:  func() uint8 { return c.cdmob },
		layout.CANIDT[0]: func() uint8 { return c.idt[0] },
		layout.CANIDT[1]: func() uint8 { return c.idt[1] },
		layout.CANIDT[2]: func() uint8 { return c.idt[2] },
		layout.CANIDT[3]: func() uint8 { return c.idt[3] },
		layout.CANIDM[0]: func() uint8 { return c.idm[0] },
		layout.CANIDM[1]: func() uint8 { return c.idm[1] },
		layout.CANIDM[2]: func() uint8 { return c.idm[2] },
		layout.CANIDM[3]: func() uint8 { return c.idm[3] },
	} {
		core.RegisterIORead(addr, c.locked(fn))
	}
	return c
}

func (c *Controller) locked(fn func() uint8) avr.ReadHook {
	return func(avr.Addr) uint8 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return fn()
	}
}

// current returns CANPAGE.MOBNB; callers hold mu.
func (c *Controller) current() int {
	n := int(c.page&pageMOBNB) >> pageMOBNBShift
	if !mob.Valid(n) {
		panic(fmt.Sprintf("avrcan: CANPAGE 0x%02X selects mailbox %d", c.page, n))
	}
	return n
}

func (c *Controller) gsta() uint8 {
	if c.busy != 0 {
		return gstaTXBSY
	}
	return 0
}

// snapshot stores the shadow registers into m; callers hold mu.
func (c *Controller) snapshot(m *mob.MessageObject) {
	m.DLC = c.cdmob & cdmobDLC
	m.Mode = mob.Mode(c.cdmob&cdmobCONMOB) >> cdmobCONMOBShift
	m.Index = c.page & pageINDX
	m.ID = mob.JoinID(c.idt[0], c.idt[1])
	m.Mask = mob.JoinID(c.idm[0], c.idm[1])
}

// load presents m through the shadow registers; callers hold mu.
func (c *Controller) load(m mob.MessageObject) {
	c.cdmob = c.cdmob&^(cdmobCONMOB|cdmobDLC) | uint8(m.Mode)<<cdmobCONMOBShift | m.DLC&cdmobDLC
	c.page = c.page&^pageINDX | m.Index&pageINDX
	c.idt[0], c.idt[1] = mob.SplitID(m.ID)
	c.idm[0], c.idm[1] = mob.SplitID(m.Mask)
}

func (c *Controller) writeShadow(reg *uint8) avr.WriteHook {
	return func(_ avr.Addr, v uint8) {
		c.mu.Lock()
		*reg = v
		c.mu.Unlock()
		metrics.IncRegisterWrite()
	}
}

// writeData handles CANMSG: one payload byte at INDX of the current mailbox.
func (c *Controller) writeData(_ avr.Addr, v uint8) {
	c.mu.Lock()
	m := c.bank.At(c.current())
	m.Data[c.page&pageINDX] = v
	c.advanceIndex()
	c.mu.Unlock()
	metrics.IncRegisterWrite()
}

// readData returns the payload byte at INDX, advancing like the write path.
func (c *Controller) readData(avr.Addr) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.bank.Get(c.current()).Data[c.page&pageINDX]
	c.advanceIndex()
	return v
}

func (c *Controller) advanceIndex() {
	if c.page&pageAINC == 0 {
		return
	}
	indx := (c.page&pageINDX + 1) % 8
	c.page = c.page&^pageINDX | indx
}

// writeConfig handles CANCDMOB: commit the shadow registers to the current
// mailbox and act on the requested CONMOB mode.
func (c *Controller) writeConfig(_ avr.Addr, v uint8) {
	c.mu.Lock()
	cur := c.current()
	c.cdmob = v
	m := c.bank.At(cur)
	c.snapshot(m)
	committed := *m
	mode := mob.Mode(v>>cdmobCONMOBShift) & 0x3
	raise := -1
	switch mode {
	case mob.Disabled:
	case mob.TransmitEnabled:
		c.busy |= 1 << cur
		c.status[cur] &^= stmobTXOK
		raise = IRQTransmit
	case mob.ReceiveEnabled:
		c.status[cur] &^= stmobRXOK
	case mob.ReceiveBufferEnabled:
		// Buffer mode is accepted and stored but never matched.
	default:
		c.mu.Unlock()
		panic(fmt.Sprintf("avrcan: invalid MOb configuration mode %d (CANCDMOB=0x%02X)", mode, v))
	}
	c.mu.Unlock()
	metrics.IncRegisterWrite()

	switch mode {
	case mob.TransmitEnabled:
		c.logger.Debug("can_transmit", "mob", cur, "id", fmt.Sprintf("0x%03X", committed.ID), "dlc", committed.DLC)
	case mob.ReceiveEnabled:
		c.logger.Debug("can_receive_armed", "mob", cur, "id", fmt.Sprintf("0x%03X", committed.ID), "mask", fmt.Sprintf("0x%03X", committed.Mask))
	case mob.ReceiveBufferEnabled:
		c.logger.Debug("can_rx_buffer_unsupported", "mob", cur)
	}
	if raise >= 0 {
		c.irq[raise].Raise(uint32(cur))
	}
}

// writeMobNumber handles CANPAGE: save the outgoing mailbox, then present
// the incoming one. The order matters; loading first would clobber the
// outgoing mailbox with the incoming one's fields.
func (c *Controller) writeMobNumber(_ avr.Addr, v uint8) {
	next := int(v&pageMOBNB) >> pageMOBNBShift
	if !mob.Valid(next) {
		panic(fmt.Sprintf("avrcan: CANPAGE write 0x%02X selects mailbox %d", v, next))
	}
	c.mu.Lock()
	prev := c.current()
	c.snapshot(c.bank.At(prev))
	c.page = v &^ pageINDX
	c.load(c.bank.Get(next))
	c.mu.Unlock()
	metrics.IncRegisterWrite()
	metrics.IncMobSwitch()

	c.irq[IRQMailboxSwitch].Raise(uint32(next))
}

func (c *Controller) writeGlobalControl(_ avr.Addr, v uint8) {
	metrics.IncRegisterWrite()
	if v&gconSWRES != 0 {
		c.Reset()
		return
	}
	c.mu.Lock()
	c.gcon = v
	c.mu.Unlock()
}

// writeStatus stores CANSTMOB for the current mailbox; firmware clears
// TXOK/RXOK by writing them back as zero.
func (c *Controller) writeStatus(_ avr.Addr, v uint8) {
	c.mu.Lock()
	c.status[c.current()] = v
	c.mu.Unlock()
	metrics.IncRegisterWrite()
}

// Reset restores the power-on AINC default and drops pending TX busy state.
// Mailbox contents survive.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.page |= pageAINC
	c.busy = 0
	c.gcon = 0
	c.mu.Unlock()
}

// Mailbox returns a copy of mailbox i as last committed to the bank.
func (c *Controller) Mailbox(i int) mob.MessageObject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bank.Get(i)
}

// Busy reports whether mailbox i has a transmission outstanding.
func (c *Controller) Busy(i int) bool {
	if !mob.Valid(i) {
		panic(fmt.Sprintf("avrcan: busy query for mailbox %d", i))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy&(1<<i) != 0
}
