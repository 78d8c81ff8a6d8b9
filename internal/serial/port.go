package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/logging"
)

const readBufSize = 256

// ErrClosed is returned by ReadFrame after Close.
var ErrClosed = errors.New("slcan: adapter closed")

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// openPort is replaced in tests.
var openPort = func(name string, baud int, readTimeout time.Duration) (Port, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout})
}

// Config describes the serial line and CAN bus setup.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
	Bitrate     int
}

// Adapter is an open SLCAN channel. ReadFrame and WriteFrame may be used
// from different goroutines.
type Adapter struct {
	port    Port
	codec   Codec
	wmu     sync.Mutex
	rbuf    bytes.Buffer
	pending []can.Frame
	closed  atomic.Bool
}

// Open opens the serial device and brings the CAN channel up: close any
// stale session, set the bitrate, open.
func Open(cfg Config) (*Adapter, error) {
	setBitrate, err := BitrateCommand(cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	p, err := openPort(cfg.Device, cfg.Baud, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", cfg.Device, err)
	}
	a := &Adapter{port: p}
	for _, cmd := range [][]byte{[]byte("C\r"), setBitrate, []byte("O\r")} {
		if _, err := p.Write(cmd); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("slcan: setup %q: %w", bytes.TrimSuffix(cmd, []byte("\r")), err)
		}
	}
	logging.Component("slcan").Debug("slcan_open", "device", cfg.Device, "bitrate", cfg.Bitrate)
	return a, nil
}

// ReadFrame blocks until a frame is decoded, the port fails or Close is called.
func (a *Adapter) ReadFrame(fr *can.Frame) error {
	buf := make([]byte, readBufSize)
	for len(a.pending) == 0 {
		if a.closed.Load() {
			return ErrClosed
		}
		n, err := a.port.Read(buf)
		if n > 0 {
			a.rbuf.Write(buf[:n])
			_ = a.codec.DecodeStream(&a.rbuf, func(f can.Frame) { a.pending = append(a.pending, f) })
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if a.closed.Load() {
				return ErrClosed
			}
			return fmt.Errorf("slcan: read: %w", err)
		}
		// n == 0 with nil or EOF is a read timeout; poll again.
	}
	*fr = a.pending[0]
	a.pending = a.pending[1:]
	return nil
}

// WriteFrame sends one frame as an SLCAN transmit command.
func (a *Adapter) WriteFrame(fr can.Frame) error {
	line := a.codec.Encode(fr)
	a.wmu.Lock()
	defer a.wmu.Unlock()
	n, err := a.port.Write(line)
	if err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("slcan: write: %w", io.ErrShortWrite)
	}
	return nil
}

// Close takes the channel off the bus and closes the port. The pending
// ReadFrame returns ErrClosed after its current read timeout.
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	a.wmu.Lock()
	_, _ = a.port.Write([]byte("C\r"))
	a.wmu.Unlock()
	return a.port.Close()
}
