package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-cansim/internal/metrics"
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
					"ticks", snap.Ticks,
					"ticks_skipped", snap.TicksSkipped,
					"tx_gear", snap.TxGear,
					"tx_speed", snap.TxSpeed,
					"tx_dropped", snap.TxDropped,
					"rx_drained", snap.RxDrained,
					"reconfigs", snap.Reconfigs,
					"reconfig_failures", snap.ReconfigFailures,
					"commands", snap.Commands,
					"command_errors", snap.CommandErrors,
					"errors", snap.Errors,
					"clients", snap.Clients,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
