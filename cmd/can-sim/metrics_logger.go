package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-avr-can/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"can_tx", snap.Tx,
					"can_rx", snap.Rx,
					"rx_matched", snap.RxMatched,
					"rx_unmatched", snap.RxUnmatched,
					"register_writes", snap.RegisterWrites,
					"mob_switches", snap.MobSwitches,
					"tx_queue", snap.TxQueueDepth,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
