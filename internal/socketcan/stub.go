//go:build !linux

package socketcan

import (
	"errors"
	"fmt"

	"github.com/kstaniek/go-avr-can/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: not supported on this platform")

// Device is unavailable off linux.
type Device struct{}

func Open(iface string) (*Device, error) {
	return nil, fmt.Errorf("socketcan: socket: %w", ErrUnsupported)
}

func (d *Device) Close() error                  { return nil }
func (d *Device) ReadFrame(fr *can.Frame) error { return ErrUnsupported }
func (d *Device) WriteFrame(can.Frame) error    { return ErrUnsupported }
