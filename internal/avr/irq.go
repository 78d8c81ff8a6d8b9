package avr

import "sync"

type irqKey struct {
	ctl   uint32
	index int
}

// IRQHook receives the value an IRQ was raised with.
type IRQHook func(value uint32)

// IRQ is a named notification line. Peripherals raise it, listeners
// (other peripherals, host bridges, tracers) subscribe with Notify.
type IRQ struct {
	Name string

	mu    sync.RWMutex
	hooks []IRQHook
	value uint32
}

// IRQ returns the line identified by the peripheral ioctl code and index,
// creating it on first use.
func (c *Core) IRQ(ctl uint32, index int) *IRQ {
	k := irqKey{ctl, index}
	c.mu.Lock()
	defer c.mu.Unlock()
	irq, ok := c.irqs[k]
	if !ok {
		irq = &IRQ{}
		c.irqs[k] = irq
	}
	return irq
}

// Notify subscribes fn to the line.
func (q *IRQ) Notify(fn IRQHook) {
	q.mu.Lock()
	q.hooks = append(q.hooks, fn)
	q.mu.Unlock()
}

// Raise records value and calls every listener synchronously.
func (q *IRQ) Raise(value uint32) {
	q.mu.Lock()
	q.value = value
	hooks := append([]IRQHook(nil), q.hooks...)
	q.mu.Unlock()
	for _, fn := range hooks {
		fn(value)
	}
}

// Value returns the last raised value.
func (q *IRQ) Value() uint32 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.value
}
