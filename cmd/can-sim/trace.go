package main

import (
	"log/slog"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/avrcan"
)

// traceIRQs logs every controller IRQ at debug level.
func traceIRQs(core *avr.Core, l *slog.Logger) {
	for _, idx := range []int{avrcan.IRQTransmit, avrcan.IRQReceive, avrcan.IRQMailboxSwitch} {
		q := core.IRQ(avrcan.IoctlGetIRQ, idx)
		q.Notify(func(v uint32) { l.Debug("can_irq", "irq", q.Name, "mob", v) })
	}
}
