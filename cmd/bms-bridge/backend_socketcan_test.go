//go:build linux

package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
	"github.com/kstaniek/go-bms-bridge/internal/socketcan"
)

type fakeSocketDev struct {
	mu       sync.Mutex
	frames   []can.Frame
	idx      int
	errAfter bool
	written  []can.Frame
}

func (d *fakeSocketDev) ReadFrame(fr *can.Frame) error {
	d.mu.Lock()
	if d.idx < len(d.frames) {
		*fr = d.frames[d.idx]
		d.idx++
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	if d.errAfter {
		return io.ErrUnexpectedEOF
	}
	return io.EOF
}
func (d *fakeSocketDev) WriteFrame(fr can.Frame) error {
	d.mu.Lock()
	d.written = append(d.written, fr)
	d.mu.Unlock()
	return nil
}
func (d *fakeSocketDev) Close() error { return nil }

func restoreSocketCANHook() {
	openSocketCANDevice = func(iface string, filters []socketcan.Filter) (socketcan.Dev, error) {
		return socketcan.Open(iface, filters...)
	}
}

func TestInitSocketCANBackendBasic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frame := can.NewStandard(0x202, 0x01, 0x02, 0x03)
	dev := &fakeSocketDev{frames: []can.Frame{frame}, errAfter: true}
	var gotFilters []socketcan.Filter
	openSocketCANDevice = func(iface string, filters []socketcan.Filter) (socketcan.Dev, error) {
		gotFilters = filters
		return dev, nil
	}
	defer restoreSocketCANHook()
	sleepFn = func(time.Duration) {}
	defer func() { sleepFn = time.Sleep }()

	beforeErrs := metrics.Snap().Errors
	cfg := &appConfig{backend: "socketcan", canIf: "vcan0"}
	onFrame, frames := frameCollector(1)
	var wg sync.WaitGroup
	send, cleanup, err := initBackend(ctx, cfg, []uint8{0x02, 0x15}, onFrame, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initBackend: %v", err)
	}
	if gotFilters != nil {
		t.Fatalf("filters installed without -can-filter: %v", gotFilters)
	}

	select {
	case fr := <-frames:
		if fr.CANID != frame.CANID || fr.Len != frame.Len {
			t.Fatalf("unexpected frame: %+v", fr)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for socketcan frame")
	}

	if err := send.SendFrame(can.NewStandard(0x200, 1, 2, 1, 0x15)); err != nil {
		t.Fatalf("send frame: %v", err)
	}
	// Allow read error path to trigger once.
	time.Sleep(30 * time.Millisecond)
	if metrics.Snap().Errors == beforeErrs {
		t.Fatalf("expected at least one error increment (read error after frame)")
	}
	cancel()
	cleanup()
	wg.Wait()
	if len(dev.written) != 1 || dev.written[0].ID() != 0x200 {
		t.Fatalf("unexpected writes: %v", dev.written)
	}
}

func TestInitSocketCANBackendFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var gotFilters []socketcan.Filter
	openSocketCANDevice = func(iface string, filters []socketcan.Filter) (socketcan.Dev, error) {
		gotFilters = filters
		return &fakeSocketDev{}, nil
	}
	defer restoreSocketCANHook()

	cfg := &appConfig{backend: "socketcan", canIf: "vcan0", canFilter: true}
	var wg sync.WaitGroup
	_, cleanup, err := initBackend(ctx, cfg, []uint8{0x02, 0x15}, func(can.Frame) {}, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initBackend: %v", err)
	}
	cancel()
	cleanup()
	wg.Wait()
	if len(gotFilters) != 2 {
		t.Fatalf("expected 2 filters, got %v", gotFilters)
	}
	if !gotFilters[0].Match(can.NewStandard(0x302)) || gotFilters[0].Match(can.NewStandard(0x303)) {
		t.Fatalf("filter 0 does not select low byte 0x02: %+v", gotFilters[0])
	}
}
