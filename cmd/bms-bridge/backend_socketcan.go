//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
	"github.com/kstaniek/go-bms-bridge/internal/socketcan"
	"github.com/kstaniek/go-bms-bridge/internal/transport"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, filters []socketcan.Filter) (socketcan.Dev, error) {
	return socketcan.Open(iface, filters...)
}

// initSocketCANBackend sets up the SocketCAN backend, launching the RX loop.
// With -can-filter the kernel only delivers frames whose low byte is in filterIDs.
func initSocketCANBackend(ctx context.Context, cfg *appConfig, filterIDs []uint8, onFrame frameHandler, l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	var filters []socketcan.Filter
	if cfg.canFilter {
		filters = socketcan.LowByteFilters(filterIDs)
	}
	dev, err := openSocketCANDevice(cfg.canIf, filters)
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf, "filters", len(filters))
	tw := socketcan.NewTXWriter(ctx, dev, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("socketcan_rx_end")
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var fr can.Frame
			if err := dev.ReadFrame(&fr); err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				metrics.IncError(metrics.ErrSocketCANRead)
				l.Warn("socketcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
				continue
			}
			onFrame(fr)
			backoff = rxBackoffMin
		}
	}()
	return tw, func() { _ = dev.Close(); tw.Close() }, nil
}
