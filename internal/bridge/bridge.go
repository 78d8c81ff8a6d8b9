// Package bridge connects the emulated CAN controller to a host endpoint.
//
// Outbound, the transmit IRQ snapshots the mailbox through IoctlSend and
// queues the frame for a single writer goroutine, so the simulation never
// waits on the host. Inbound, Run reads frames and offers each one to the
// receive filters through IoctlReceive.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/avrcan"
	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/logging"
	"github.com/kstaniek/go-avr-can/internal/metrics"
	"github.com/kstaniek/go-avr-can/internal/transport"
)

const (
	DefaultQueueSize = 1024
	rxBackoffMin     = 20 * time.Millisecond
	rxBackoffMax     = 500 * time.Millisecond
)

// sleepFn is replaced in tests.
var sleepFn = time.Sleep

type txItem struct {
	mob   int
	frame can.Frame
}

// Bridge pumps frames between one controller and one endpoint.
type Bridge struct {
	ctl    avr.Ioctler
	ep     transport.Endpoint
	logger *slog.Logger

	queueSize  int
	readLabel  string
	writeLabel string
	shortLabel string

	tx     *transport.AsyncTx[txItem]
	ctx    context.Context
	cancel context.CancelFunc

	errOnce   sync.Once
	err       atomic.Pointer[error]
	closed    atomic.Bool
	closeOnce sync.Once
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithQueueSize sets the transmit queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithErrorLabels sets the errors_total labels used for endpoint read
// failures, fatal write failures and short writes.
func WithErrorLabels(read, write, short string) Option {
	return func(b *Bridge) { b.readLabel, b.writeLabel, b.shortLabel = read, write, short }
}

// New starts the transmit worker. The bridge owns ep from here on.
func New(parent context.Context, ctl avr.Ioctler, ep transport.Endpoint, opts ...Option) *Bridge {
	b := &Bridge{
		ctl:        ctl,
		ep:         ep,
		logger:     logging.Component("bridge"),
		queueSize:  DefaultQueueSize,
		readLabel:  metrics.ErrSocketCANRead,
		writeLabel: metrics.ErrSocketCANWrite,
		shortLabel: metrics.ErrSocketCANShort,
	}
	for _, o := range opts {
		o(b)
	}
	b.ctx, b.cancel = context.WithCancel(parent)
	b.tx = transport.NewAsyncTx(b.ctx, b.queueSize, b.write, transport.Hooks[txItem]{
		OnError: b.writeFailed,
		OnAfter: b.written,
		OnDrop: func(it txItem) error {
			metrics.IncError(metrics.ErrTxOverflow)
			b.logger.Warn("bridge_tx_overflow", "mob", it.mob, "id", fmt.Sprintf("0x%03X", it.frame.CANID))
			return ErrTxOverflow
		},
	})
	return b
}

// Attach subscribes HandleTransmit to the controller's transmit IRQ.
func (b *Bridge) Attach(core *avr.Core) {
	core.IRQ(avrcan.IoctlGetIRQ, avrcan.IRQTransmit).Notify(b.HandleTransmit)
}

// HandleTransmit queues the frame of mailbox m. It is an IRQ hook and
// never blocks. Once the bridge has stopped, requests are discarded
// without touching the queue.
func (b *Bridge) HandleTransmit(m uint32) {
	if b.ctx.Err() != nil {
		b.logger.Debug("bridge_tx_discarded", "mob", m, "error", b.stopReason())
		return
	}
	req := avrcan.Request{Mob: int(m)}
	if err := b.ctl.Ioctl(avrcan.IoctlSend, &req); err != nil {
		b.logger.Error("bridge_send_lookup_error", "mob", m, "error", err)
		return
	}
	err := b.tx.Send(txItem{mob: req.Mob, frame: req.Frame})
	metrics.SetTxQueueDepth(b.tx.Len())
	if err != nil && !errors.Is(err, ErrTxOverflow) {
		b.logger.Debug("bridge_tx_discarded", "mob", m, "error", err)
	}
}

func (b *Bridge) write(it txItem) error { return b.ep.WriteFrame(it.frame) }

func (b *Bridge) written(it txItem) {
	metrics.IncTx()
	req := avrcan.Request{Mob: it.mob}
	if err := b.ctl.Ioctl(avrcan.IoctlTxDone, &req); err != nil {
		b.logger.Error("bridge_tx_done_error", "mob", it.mob, "error", err)
	}
	b.logger.Debug("bridge_tx", "mob", it.mob, "id", fmt.Sprintf("0x%03X", it.frame.CANID), "len", it.frame.Len)
}

func (b *Bridge) writeFailed(it txItem, err error) {
	if b.closed.Load() {
		return
	}
	if isShortWrite(err) {
		metrics.IncError(b.shortLabel)
		b.logger.Warn("bridge_short_write", "mob", it.mob, "error", err)
		return
	}
	metrics.IncError(b.writeLabel)
	b.fail(fmt.Errorf("%w: mob %d: %w", ErrFatalWrite, it.mob, err))
}

func (b *Bridge) fail(err error) {
	b.errOnce.Do(func() {
		b.err.Store(&err)
		b.logger.Error("bridge_fatal", "error", err)
		b.cancel()
	})
}

// Err returns the error that stopped the bridge, or nil.
func (b *Bridge) Err() error {
	if p := b.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (b *Bridge) stopReason() error {
	if err := b.Err(); err != nil {
		return err
	}
	return b.ctx.Err()
}

// Done is closed when the bridge stops, by Close or a fatal write error.
func (b *Bridge) Done() <-chan struct{} { return b.ctx.Done() }

// Run reads inbound frames until ctx is cancelled or the bridge stops.
// Read errors back off from 20ms doubling up to 500ms. Close unblocks a
// pending read.
func (b *Bridge) Run(ctx context.Context) {
	defer b.logger.Info("bridge_rx_end")
	backoff := rxBackoffMin
	for {
		if ctx.Err() != nil || b.ctx.Err() != nil {
			return
		}
		var fr can.Frame
		if err := b.ep.ReadFrame(&fr); err != nil {
			if ctx.Err() != nil || b.ctx.Err() != nil || b.closed.Load() {
				return
			}
			metrics.IncError(b.readLabel)
			b.logger.Warn("bridge_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
			continue
		}
		backoff = rxBackoffMin
		metrics.IncRx()
		b.deliver(fr)
	}
}

func (b *Bridge) deliver(fr can.Frame) {
	req := avrcan.Request{Frame: fr}
	err := b.ctl.Ioctl(avrcan.IoctlReceive, &req)
	switch {
	case err == nil:
		b.logger.Debug("bridge_rx", "mob", req.Mob, "id", fmt.Sprintf("0x%03X", fr.CANID), "len", fr.Len)
	case errors.Is(err, avrcan.ErrNoMatch):
	default:
		b.logger.Warn("bridge_receive_error", "error", err)
	}
}

// Close stops both directions and closes the endpoint. Frames still queued
// are discarded.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.cancel()
		err = b.ep.Close()
		b.tx.Close()
	})
	return err
}
