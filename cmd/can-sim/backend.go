package main

import (
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-avr-can/internal/bridge"
	"github.com/kstaniek/go-avr-can/internal/metrics"
	"github.com/kstaniek/go-avr-can/internal/serial"
	"github.com/kstaniek/go-avr-can/internal/socketcan"
	"github.com/kstaniek/go-avr-can/internal/transport"
)

// Endpoint openers are hooks for tests.
var (
	openSocketCAN = func(iface string) (transport.Endpoint, error) {
		d, err := socketcan.Open(iface)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	openSLCAN = func(cfg serial.Config) (transport.Endpoint, error) {
		a, err := serial.Open(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
)

// openEndpoint opens the configured host endpoint and returns the bridge
// options matching it. A nil endpoint means no bridge is configured.
func openEndpoint(cfg *appConfig, l *slog.Logger) (transport.Endpoint, []bridge.Option, error) {
	if !cfg.bridged() {
		l.Info("bridge_disabled", "backend", cfg.backend)
		return nil, nil, nil
	}
	opts := []bridge.Option{bridge.WithLogger(l), bridge.WithQueueSize(cfg.txQueue)}
	switch cfg.backend {
	case "socketcan":
		ep, err := openSocketCAN(cfg.canIf)
		if err != nil {
			return nil, nil, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
		}
		l.Info("socketcan_open", "if", cfg.canIf)
		return ep, append(opts, bridge.WithErrorLabels(metrics.ErrSocketCANRead, metrics.ErrSocketCANWrite, metrics.ErrSocketCANShort)), nil
	case "slcan":
		ep, err := openSLCAN(serial.Config{
			Device:      cfg.serialDev,
			Baud:        cfg.baud,
			ReadTimeout: cfg.serialReadTO,
			Bitrate:     cfg.slcanBitrate,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("slcan open %s: %w", cfg.serialDev, err)
		}
		l.Info("slcan_open", "device", cfg.serialDev, "baud", cfg.baud, "bitrate", cfg.slcanBitrate)
		return ep, append(opts, bridge.WithErrorLabels(metrics.ErrSerialRead, metrics.ErrSerialWrite, metrics.ErrSerialShort)), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q (use socketcan|slcan)", cfg.backend)
	}
}
