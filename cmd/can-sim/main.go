package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-avr-can/internal/avr"
	"github.com/kstaniek/go-avr-can/internal/avrcan"
	"github.com/kstaniek/go-avr-can/internal/bridge"
	"github.com/kstaniek/go-avr-can/internal/metrics"
)

// ATmega16M1: 256 bytes of register file and I/O plus 1 KiB SRAM.
const dataSpaceSize = 0x500

func main() { os.Exit(run()) }

func run() int {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-sim %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	if cfg == nil {
		return 2
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	core := avr.NewCore(dataSpaceSize)
	avrcan.New(core, avrcan.ATmega16M1, avrcan.WithLogger(l))
	traceIRQs(core, l)

	var steps script
	if cfg.script != "" {
		var err error
		if steps, err = loadScript(cfg.script, avrcan.ATmega16M1); err != nil {
			l.Error("script_error", "path", cfg.script, "error", err)
			return 1
		}
	}

	ep, opts, err := openEndpoint(cfg, l)
	if err != nil {
		l.Error("bridge_init_error", "error", err)
		return 1
	}
	var br *bridge.Bridge
	var fatal <-chan struct{}
	if ep != nil {
		br = bridge.New(ctx, core, ep, opts...)
		br.Attach(core)
		fatal = br.Done()
		wg.Add(1)
		go func() {
			defer wg.Done()
			br.Run(ctx)
		}()
	}

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && (br == nil || br.Err() == nil)
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	var scriptDone chan error
	if steps != nil {
		scriptDone = make(chan error, 1)
		go func() { scriptDone <- steps.run(ctx, core, l) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	code := 0
wait:
	for {
		select {
		case s := <-sigCh:
			l.Info("shutdown_signal", "signal", s.String())
			break wait
		case <-fatal:
			l.Error("bridge_fatal", "error", br.Err())
			code = 1
			break wait
		case err := <-scriptDone:
			if err != nil {
				l.Error("script_error", "path", cfg.script, "error", err)
				code = 1
				break wait
			}
			l.Info("script_done", "path", cfg.script, "steps", len(steps))
			if br == nil {
				break wait
			}
			scriptDone = nil // keep bridging until a signal arrives
		}
	}
	cancel()
	if br != nil {
		_ = br.Close()
	}
	wg.Wait()
	return code
}
