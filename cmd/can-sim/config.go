package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	canIf           string
	backend         string
	serialDev       string
	baud            int
	slcanBitrate    int
	serialReadTO    time.Duration
	txQueue         int
	script          string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
}

// bridged reports whether a host endpoint is configured.
func (c *appConfig) bridged() bool {
	if c.backend == "slcan" {
		return c.serialDev != ""
	}
	return c.canIf != ""
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	canIf := flag.String("can-if", "", "SocketCAN interface to bridge to (empty runs without a bridge)")
	backend := flag.String("backend", "socketcan", "Host endpoint: socketcan|slcan")
	serialDev := flag.String("serial", "", "SLCAN adapter device (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "SLCAN serial baud rate")
	slcanBitrate := flag.Int("slcan-bitrate", 500000, "CAN bitrate configured on the SLCAN adapter")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	txQueue := flag.Int("tx-queue", 1024, "Transmit queue capacity (frames)")
	script := flag.String("script", "", "Register stimulus script to replay against the controller")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.canIf = *canIf
	cfg.backend = *backend
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.slcanBitrate = *slcanBitrate
	cfg.serialReadTO = *serialReadTO
	cfg.txQueue = *txQueue
	cfg.script = *script
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges; it opens nothing.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.backend == "slcan" {
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if c.serialReadTO <= 0 {
			return fmt.Errorf("serial-read-timeout must be > 0")
		}
		if c.slcanBitrate <= 0 {
			return fmt.Errorf("slcan-bitrate must be > 0 (got %d)", c.slcanBitrate)
		}
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CAN_SIM_* environment variables onto the config
// unless the matching flag was set explicitly (flag wins). Empty values are
// ignored; the first parse error is returned.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(flagName, env string) (string, bool) {
		if _, ok := set[flagName]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(env)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setErr := func(env string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", env, err)
		}
	}
	str := func(flagName, env string, dst *string) {
		if v, ok := get(flagName, env); ok {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int) {
		if v, ok := get(flagName, env); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				setErr(env, err)
				return
			}
			*dst = n
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if v, ok := get(flagName, env); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				setErr(env, err)
				return
			}
			*dst = d
		}
	}

	str("can-if", "CAN_SIM_IF", &c.canIf)
	str("backend", "CAN_SIM_BACKEND", &c.backend)
	str("serial", "CAN_SIM_SERIAL", &c.serialDev)
	num("baud", "CAN_SIM_BAUD", &c.baud)
	num("slcan-bitrate", "CAN_SIM_SLCAN_BITRATE", &c.slcanBitrate)
	dur("serial-read-timeout", "CAN_SIM_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	num("tx-queue", "CAN_SIM_TX_QUEUE", &c.txQueue)
	str("script", "CAN_SIM_SCRIPT", &c.script)
	str("log-format", "CAN_SIM_LOG_FORMAT", &c.logFormat)
	str("log-level", "CAN_SIM_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "CAN_SIM_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	// An empty CAN_SIM_METRICS explicitly disables the endpoint.
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := os.LookupEnv("CAN_SIM_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	return firstErr
}
