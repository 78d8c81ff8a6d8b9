package main

import (
	"errors"
	"testing"
	"time"

	"github.com/kstaniek/go-avr-can/internal/can"
	"github.com/kstaniek/go-avr-can/internal/serial"
	"github.com/kstaniek/go-avr-can/internal/transport"
)

type nopEndpoint struct{}

func (nopEndpoint) ReadFrame(*can.Frame) error { return errors.New("nop") }
func (nopEndpoint) WriteFrame(can.Frame) error { return nil }
func (nopEndpoint) Close() error               { return nil }

func TestOpenEndpointDisabled(t *testing.T) {
	c := baseConfig()
	c.canIf = ""
	ep, opts, err := openEndpoint(c, testLogger())
	if err != nil || ep != nil || opts != nil {
		t.Fatalf("expected no endpoint, got %v %v %v", ep, opts, err)
	}
}

func TestOpenEndpointSocketCAN(t *testing.T) {
	prev := openSocketCAN
	defer func() { openSocketCAN = prev }()
	var gotIf string
	openSocketCAN = func(iface string) (transport.Endpoint, error) { gotIf = iface; return nopEndpoint{}, nil }

	ep, opts, err := openEndpoint(baseConfig(), testLogger())
	if err != nil || ep == nil {
		t.Fatalf("open: %v", err)
	}
	if gotIf != "vcan0" || len(opts) != 3 {
		t.Fatalf("if=%q opts=%d", gotIf, len(opts))
	}
}

func TestOpenEndpointSocketCANError(t *testing.T) {
	prev := openSocketCAN
	defer func() { openSocketCAN = prev }()
	bindErr := errors.New("socketcan: bind vcan0: no such device")
	openSocketCAN = func(string) (transport.Endpoint, error) { return nil, bindErr }

	_, _, err := openEndpoint(baseConfig(), testLogger())
	if !errors.Is(err, bindErr) {
		t.Fatalf("expected wrapped bind error, got %v", err)
	}
}

func TestOpenEndpointSLCAN(t *testing.T) {
	prev := openSLCAN
	defer func() { openSLCAN = prev }()
	var got serial.Config
	openSLCAN = func(cfg serial.Config) (transport.Endpoint, error) { got = cfg; return nopEndpoint{}, nil }

	c := baseConfig()
	c.backend = "slcan"
	c.serialDev = "/dev/ttyACM0"
	c.slcanBitrate = 250000
	if _, _, err := openEndpoint(c, testLogger()); err != nil {
		t.Fatalf("open: %v", err)
	}
	want := serial.Config{Device: "/dev/ttyACM0", Baud: 115200, ReadTimeout: 10 * time.Millisecond, Bitrate: 250000}
	if got != want {
		t.Fatalf("config %+v, want %+v", got, want)
	}
}
