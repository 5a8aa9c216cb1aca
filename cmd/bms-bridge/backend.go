package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/transport"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// frameHandler receives every frame read from the bus.
type frameHandler func(can.Frame)

// initBackend selects the backend, starts its RX loop and returns a frame sender and cleanup.
// It returns an error instead of exiting the process to allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, filterIDs []uint8, onFrame frameHandler, l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	switch cfg.backend {
	case "slcan":
		return initSLCANBackend(ctx, cfg, onFrame, l, wg)
	case "socketcan":
		return initSocketCANBackend(ctx, cfg, filterIDs, onFrame, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use slcan|socketcan)", cfg.backend)
	}
}

// nextBackoff doubles d up to rxBackoffMax.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > rxBackoffMax {
		d = rxBackoffMax
	}
	return d
}
