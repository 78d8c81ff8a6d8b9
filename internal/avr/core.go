// Package avr is the slice of the instruction simulator that peripherals
// plug into: data-space register hooks, IRQ fan-out, peripheral reset and
// ioctl-style requests. The CPU itself lives elsewhere; anything that can
// call Write/Read (an instruction loop or a test stimulus) drives the core.
package avr

import (
	"errors"
	"fmt"
	"sync"
)

// Addr is a data-space address.
type Addr uint16

// WriteHook is called when firmware writes v to addr. The hook owns the
// register: the core does not store v itself.
type WriteHook func(addr Addr, v uint8)

// ReadHook returns the value firmware observes at addr.
type ReadHook func(addr Addr) uint8

// Peripheral is a device registered on the core.
type Peripheral interface {
	Reset()
	Ioctl(ctl uint32, param any) error
}

// ErrNoIoctl is returned by Core.Ioctl when no peripheral claims the request.
var ErrNoIoctl = errors.New("avr: unhandled ioctl")

// IoctlDef packs a four character request code, e.g. IoctlDef('c','a','n','s').
func IoctlDef(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// Ioctler issues requests to peripherals. *Core implements it.
type Ioctler interface {
	Ioctl(ctl uint32, param any) error
}

// Core holds data-space RAM plus the hooks peripherals registered.
type Core struct {
	mu     sync.RWMutex
	data   []byte
	writes map[Addr]WriteHook
	reads  map[Addr]ReadHook
	io     []Peripheral
	irqs   map[irqKey]*IRQ
}

// NewCore returns a core with size bytes of data space.
func NewCore(size int) *Core {
	return &Core{
		data:   make([]byte, size),
		writes: make(map[Addr]WriteHook),
		reads:  make(map[Addr]ReadHook),
		irqs:   make(map[irqKey]*IRQ),
	}
}

// RegisterIOWrite installs the write hook for addr, replacing any previous one.
func (c *Core) RegisterIOWrite(addr Addr, fn WriteHook) {
	c.mu.Lock()
	c.writes[addr] = fn
	c.mu.Unlock()
}

// RegisterIORead installs the read hook for addr.
func (c *Core) RegisterIORead(addr Addr, fn ReadHook) {
	c.mu.Lock()
	c.reads[addr] = fn
	c.mu.Unlock()
}

// RegisterIO adds a peripheral to the reset and ioctl fan-out.
func (c *Core) RegisterIO(p Peripheral) {
	c.mu.Lock()
	c.io = append(c.io, p)
	c.mu.Unlock()
}

// Write performs a data-space store as the CPU would.
func (c *Core) Write(addr Addr, v uint8) {
	c.mu.RLock()
	fn := c.writes[addr]
	c.mu.RUnlock()
	if fn != nil {
		fn(addr, v)
		return
	}
	c.checkAddr(addr)
	c.mu.Lock()
	c.data[addr] = v
	c.mu.Unlock()
}

// Read performs a data-space load as the CPU would.
func (c *Core) Read(addr Addr) uint8 {
	c.mu.RLock()
	fn := c.reads[addr]
	c.mu.RUnlock()
	if fn != nil {
		return fn(addr)
	}
	c.checkAddr(addr)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[addr]
}

func (c *Core) checkAddr(addr Addr) {
	if int(addr) >= len(c.data) {
		panic(fmt.Sprintf("avr: data address 0x%04X outside %d byte data space", uint16(addr), len(c.data)))
	}
}

// Reset resets every registered peripheral in registration order.
func (c *Core) Reset() {
	c.mu.RLock()
	io := append([]Peripheral(nil), c.io...)
	c.mu.RUnlock()
	for _, p := range io {
		p.Reset()
	}
}

// Ioctl offers the request to each peripheral until one handles it.
// Peripherals signal "not mine" by returning ErrNoIoctl.
func (c *Core) Ioctl(ctl uint32, param any) error {
	c.mu.RLock()
	io := append([]Peripheral(nil), c.io...)
	c.mu.RUnlock()
	for _, p := range io {
		err := p.Ioctl(ctl, param)
		if errors.Is(err, ErrNoIoctl) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: 0x%08X", ErrNoIoctl, ctl)
}
