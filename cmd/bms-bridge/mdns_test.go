package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartMDNSDisabled(t *testing.T) {
	called := false
	registerMDNS = func(string, string, int, []string) (func(), error) { called = true; return func() {}, nil }
	defer func() { registerMDNS = defaultRegisterMDNS }()
	cleanup, err := startMDNS(context.Background(), validConfig())
	require.NoError(t, err)
	cleanup()
	assert.False(t, called)
}

func TestStartMDNSRegisters(t *testing.T) {
	type reg struct {
		instance, service string
		port              int
		txt               []string
	}
	var got reg
	shut := make(chan struct{})
	registerMDNS = func(instance, service string, port int, txt []string) (func(), error) {
		got = reg{instance, service, port, txt}
		return func() { close(shut) }, nil
	}
	defer func() { registerMDNS = defaultRegisterMDNS }()

	cfg := validConfig()
	cfg.mdnsEnable = true
	cfg.mdnsName = "pack1"
	cfg.metricsAddr = ":9100"
	cfg.deviceID = 0x210
	cleanup, err := startMDNS(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, reg{"pack1", "_bms-bridge._tcp", 9100, []string{"backend=slcan", "device=0x210", "version=" + version}}, got)

	cleanup()
	select {
	case <-shut:
	case <-time.After(time.Second):
		t.Fatal("service not shut down")
	}
}

func TestStartMDNSErrors(t *testing.T) {
	cfg := validConfig()
	cfg.mdnsEnable = true
	cfg.metricsAddr = "localhost"
	_, err := startMDNS(context.Background(), cfg)
	assert.Error(t, err)

	registerMDNS = func(string, string, int, []string) (func(), error) { return nil, errors.New("no multicast") }
	defer func() { registerMDNS = defaultRegisterMDNS }()
	cfg.metricsAddr = "127.0.0.1:9100"
	_, err = startMDNS(context.Background(), cfg)
	assert.ErrorContains(t, err, "no multicast")
}

func TestMDNSInstanceDefault(t *testing.T) {
	assert.Contains(t, mdnsInstance(&appConfig{}), "bms-bridge-")
}
