// Package transport holds the host-side frame endpoint contracts and the
// single-worker transmit queue shared by the CAN backends.
package transport

import "github.com/kstaniek/go-avr-can/internal/can"

// FrameReader blocks until one classic frame arrives.
type FrameReader interface {
	ReadFrame(*can.Frame) error
}

// FrameWriter writes one classic frame.
type FrameWriter interface {
	WriteFrame(can.Frame) error
}

// Endpoint is an open host CAN attachment (raw socket or serial adapter).
// Close must unblock a pending ReadFrame.
type Endpoint interface {
	FrameReader
	FrameWriter
	Close() error
}
