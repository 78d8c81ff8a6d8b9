//go:build linux

package socketcan

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-avr-can/internal/can"
)

// Device is a bound raw CAN socket.
type Device struct {
	fd        int
	iface     string
	closeOnce sync.Once
}

// openSocket and interfaceIndex are replaced in tests.
var openSocket = func() (int, error) { return unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW) }

var interfaceIndex = func(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return ifi.Index, nil
}

// Open creates a raw CAN socket bound to iface. The returned error names the
// step that failed: socket, resolve interface or bind.
func Open(iface string) (*Device, error) {
	fd, err := openSocket()
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil && err != unix.ENOPROTOOPT {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: disable CAN FD: %w", err)
	}
	idx, err := interfaceIndex(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: resolve interface %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: idx}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", iface, err)
	}
	return &Device{fd: fd, iface: iface}, nil
}

// Close shuts the socket down, waking a blocked ReadFrame, then releases it.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		_ = unix.Shutdown(d.fd, unix.SHUT_RDWR)
		err = unix.Close(d.fd)
	})
	return err
}

// ReadFrame reads one classic CAN frame.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [FrameSize]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	return Unmarshal(buf[:n], fr)
}

// WriteFrame writes one classic CAN frame.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [FrameSize]byte
	Marshal(fr, &buf)
	n, err := unix.Write(d.fd, buf[:])
	if err != nil {
		return fmt.Errorf("socketcan: write %s: %w", d.iface, err)
	}
	if n != FrameSize {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, FrameSize)
	}
	return nil
}
