package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_bms-bridge._tcp"

// registerMDNS is a hook for tests.
var registerMDNS = defaultRegisterMDNS

func defaultRegisterMDNS(instance, service string, port int, txt []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("bms-bridge-%s", host)
}

func mdnsTXT(cfg *appConfig) []string {
	return []string{
		"backend=" + cfg.backend,
		fmt.Sprintf("device=0x%03X", cfg.deviceID),
		"version=" + version,
	}
}

// portOf extracts the port from host:port or :port.
func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// startMDNS advertises the metrics endpoint and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	port, err := portOf(cfg.metricsAddr)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("mdns: cannot derive port from %q", cfg.metricsAddr)
	}
	shutdown, err := registerMDNS(mdnsInstance(cfg), mdnsServiceType, port, mdnsTXT(cfg))
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
