package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-bms-bridge/internal/metrics"
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
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"rx_frames", snap.RxFrames,
		"unknown_frames", snap.UnknownFrames,
		"poll_requests", snap.PollRequests,
		"tx_frames", snap.TxFrames,
		"samples", snap.Samples,
		"decode_errors", snap.DecodeErrors,
		"config_warnings", snap.ConfigWarns,
		"telemetry_dropped", snap.Dropped,
		"telemetry_kicked", snap.Kicked,
		"sinks", snap.Sinks,
		"errors", snap.Errors,
		"malformed", snap.Malformed,
	)
}
