package bridge

import (
	"errors"
	"io"

	"github.com/kstaniek/go-avr-can/internal/socketcan"
)

var (
	// ErrTxOverflow is returned when the transmit queue is full.
	ErrTxOverflow = errors.New("bridge: tx queue overflow")
	// ErrFatalWrite wraps the endpoint error that stopped the bridge.
	ErrFatalWrite = errors.New("bridge: endpoint write failed")
)

// isShortWrite reports a partial write the bridge survives.
func isShortWrite(err error) bool {
	return errors.Is(err, socketcan.ErrShortWrite) || errors.Is(err, io.ErrShortWrite)
}
