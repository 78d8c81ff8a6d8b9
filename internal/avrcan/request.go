package avrcan

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/metrics"
	"github.com/kstaniek/go-avr-can/internal/mob"
)

// Request codes served through avr.Core.Ioctl. Each takes a *Request.
var (
	// IoctlSend fills Request.Frame from mailbox Request.Mob.
	IoctlSend = avr.IoctlDef('c', 'a', 'n', 's')
	// IoctlReceive offers Request.Frame to the receive filters and sets
	// Request.Mob to the accepting mailbox, or returns ErrNoMatch.
	IoctlReceive = avr.IoctlDef('c', 'a', 'n', 'r')
	// IoctlTxDone reports that mailbox Request.Mob reached the bus.
	IoctlTxDone = avr.IoctlDef('c', 'a', 'n', 'd')
)

// ErrNoMatch means no receive-enabled mailbox accepted the frame.
var ErrNoMatch = errors.New("avrcan: no matching mailbox")

// Request is the ioctl parameter exchanged with host bridges.
type Request struct {
	Mob   int
	Frame can.Frame
}

// Ioctl implements avr.Peripheral.
func (c *Controller) Ioctl(ctl uint32, param any) error {
	switch ctl {
	case IoctlSend, IoctlReceive, IoctlTxDone:
	default:
		return avr.ErrNoIoctl
	}
	req, ok := param.(*Request)
	if !ok || req == nil {
		return fmt.Errorf("avrcan: ioctl 0x%08X wants *Request, got %T", ctl, param)
	}
	switch ctl {
	case IoctlSend:
		req.Frame = c.SendLookup(req.Mob)
	case IoctlReceive:
		n, ok := c.ReceiveMatch(req.Frame)
		if !ok {
			return ErrNoMatch
		}
		req.Mob = n
	case IoctlTxDone:
		c.TxDone(req.Mob)
	}
	return nil
}

// SendLookup projects mailbox m onto a wire frame. m must be 0..5.
func (c *Controller) SendLookup(m int) can.Frame {
	c.mu.Lock()
	o := c.bank.Get(m)
	c.mu.Unlock()
	fr := can.Frame{CANID: uint32(o.ID), Len: o.Len()}
	copy(fr.Data[:], o.Data[:fr.Len])
	return fr
}

// ReceiveMatch delivers fr to the lowest numbered receive-enabled mailbox
// whose filter accepts it. The mailbox takes the payload, length and the
// received identifier (its filter outcome is unchanged since the accepted id
// agrees with the stored one on every mask bit). When that mailbox is the one
// presented through CANPAGE, the shadow CANIDT and DLC registers follow.
// Extended, remote and error frames are never accepted.
func (c *Controller) ReceiveMatch(fr can.Frame) (int, bool) {
	if !fr.IsStandard() {
		metrics.IncRxUnmatched()
		return -1, false
	}
	id := fr.StdID()
	n := fr.Len
	if n > can.MaxLen {
		n = can.MaxLen
	}
	c.mu.Lock()
	hit := -1
	for i := 0; i < mob.Count; i++ {
		m := c.bank.At(i)
		if m.Mode != mob.ReceiveEnabled || !m.Match(id) {
			continue
		}
		copy(m.Data[:], fr.Data[:n])
		m.DLC = n
		m.ID = id
		c.status[i] |= stmobRXOK
		if i == c.current() {
			c.idt[0], c.idt[1] = mob.SplitID(id)
			c.cdmob = c.cdmob&^cdmobDLC | n
		}
		hit = i
		break
	}
	c.mu.Unlock()
	if hit < 0 {
		metrics.IncRxUnmatched()
		return -1, false
	}
	metrics.IncRxMatched()
	c.logger.Debug("can_received", "mob", hit, "id", fmt.Sprintf("0x%03X", id), "dlc", n)
	c.irq[IRQReceive].Raise(uint32(hit))
	return hit, true
}

// TxDone clears the TX busy state of mailbox m and flags TXOK.
func (c *Controller) TxDone(m int) {
	if !mob.Valid(m) {
		panic(fmt.Sprintf("avrcan: tx done for mailbox %d", m))
	}
	c.mu.Lock()
	c.busy &^= 1 << m
	c.status[m] |= stmobTXOK
	c.mu.Unlock()
}
