package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/kstaniek/go-bms-bridge/internal/metrics"
	"github.com/kstaniek/go-bms-bridge/internal/slcan"
	"github.com/kstaniek/go-bms-bridge/internal/transport"
)

// openSerialPort is a hook for tests (overridden in unit tests).
var openSerialPort = slcan.Open

// initSLCANBackend opens the adapter, configures the bus bitrate and launches the RX loop.
func initSLCANBackend(ctx context.Context, cfg *appConfig, onFrame frameHandler, l *slog.Logger, wg *sync.WaitGroup) (transport.FrameSink, func(), error) {
	sp, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	if err := slcan.OpenChannel(sp, cfg.canBitrate); err != nil {
		_ = sp.Close()
		return nil, func() {}, fmt.Errorf("slcan open channel: %w", err)
	}
	l.Info("slcan_open", "device", cfg.serialDev, "baud", cfg.baud, "bitrate", cfg.canBitrate)
	codec := slcan.Codec{}
	w := slcan.NewTXWriter(ctx, sp, codec, txQueueSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("slcan_rx_end")
		buf := make([]byte, serialReadBufSize)
		acc := bytes.NewBuffer(nil)
		backoff := rxBackoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := sp.Read(buf)
			if n > 0 {
				acc.Write(buf[:n])
				_ = codec.DecodeStream(acc, onFrame)
				if acc.Len() == 0 && cap(acc.Bytes()) > largeBufferReclaimThreshold {
					acc = bytes.NewBuffer(nil)
				}
				backoff = rxBackoffMin
			}
			if err != nil {
				if ctx.Err() != nil { // shutting down
					return
				}
				var perr *os.PathError
				if errors.As(err, &perr) {
					l.Error("slcan_device_lost", "error", err)
					return
				}
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					continue // read timeout with no data
				}
				metrics.IncError(metrics.ErrSerialRead)
				l.Warn("slcan_read_error", "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff = nextBackoff(backoff)
			}
		}
	}()
	cleanup := func() {
		w.Close()
		_ = slcan.CloseChannel(sp)
		_ = sp.Close()
	}
	return w, cleanup, nil
}
