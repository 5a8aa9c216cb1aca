package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/console"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
	"github.com/kstaniek/go-bms-bridge/internal/transport"
)

func main() { os.Exit(run(os.Args[1:])) }

func run(args []string) int {
	cfg, showVersion, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if showVersion {
		fmt.Printf("bms-bridge %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	model, topics, err := loadModel(cfg, logging.Component("config"))
	if err != nil {
		l.Error("config_load_error", "error", err)
		return 1
	}

	// The scheduler is built before the bus is opened so empty poll lists
	// fail without touching hardware.
	var bus transport.FrameSink
	sched, err := bms.NewScheduler(model, func(fr can.Frame) error { return bus.SendFrame(fr) },
		bms.WithDeviceID(cfg.deviceID),
		bms.WithSpacing(cfg.pollSpacing),
	)
	if err != nil {
		l.Error("scheduler_init_error", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	ts, err := initTelemetry(ctx, cfg, topics, l, &wg)
	if err != nil {
		l.Error("telemetry_init_error", "error", err)
		cancel()
		wg.Wait()
		return 1
	}
	defer ts.Close()

	dec := bms.NewDecoder(model,
		bms.WithReporter(ts.hub),
		bms.WithLegacyInt16(cfg.legacyInt16),
	)
	sink, cleanup, err := initBackend(ctx, cfg, filterIDs(model), func(fr can.Frame) { dec.HandleFrame(fr) }, l, &wg)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		cancel()
		wg.Wait()
		return 1
	}
	bus = sink

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Run(ctx)
	}()
	l.Info("polling_started", "device", fmt.Sprintf("0x%03X", cfg.deviceID), "spacing", cfg.pollSpacing)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
		cleanupMDNS, err := startMDNS(ctx, cfg)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else if cfg.mdnsEnable {
			l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg))
			defer cleanupMDNS()
		}
	}

	if cfg.console {
		c := console.New(model, sched, ts.last)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx, cancel, logOut.Set); err != nil {
				l.Warn("console_error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		l.Info("shutdown_requested")
	}
	cancel()
	cleanup()
	wg.Wait()
	return 0
}
