package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

func TestLastValues(t *testing.T) {
	lv := NewLastValues()
	_, ok := lv.Get("soc")
	assert.False(t, ok)

	require.NoError(t, lv.Write(sample("voltage", 1)))
	require.NoError(t, lv.Write(sample("soc", 50)))
	require.NoError(t, lv.Write(sample("voltage", 2)))

	got, ok := lv.Get("voltage")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Value)

	want := []bms.Sample{sample("soc", 50), sample("voltage", 2)}
	if diff := cmp.Diff(want, lv.All()); diff != "" {
		t.Fatalf("All mismatch (-want +got):\n%s", diff)
	}
}

func TestPromSinkSetsGauge(t *testing.T) {
	require.NoError(t, PromSink{}.Write(bms.Sample{Name: "pack_temp", Value: 21.5, Unit: "C"}))
	assert.Equal(t, 21.5, testutil.ToFloat64(metrics.ParameterValue.WithLabelValues("pack_temp", "C")))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := LogSink{Log: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, s.Write(sample("voltage", 10)))
	out := buf.String()
	assert.Contains(t, out, "msg=sample")
	assert.Contains(t, out, "name=voltage")
	assert.Contains(t, out, "value=10")
}

func TestAttachCountsSinkErrors(t *testing.T) {
	h := New()
	before := testutil.ToFloat64(metrics.Errors.WithLabelValues(metrics.ErrSink))
	done := make(chan struct{})
	failing := SinkFunc(func(bms.Sample) error {
		close(done)
		return errors.New("disk full")
	})
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	h.Attach(ctx, "failing", failing, &wg)
	h.Broadcast(sample("v", 1))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink never called")
	}
	cancel()
	wg.Wait()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Errors.WithLabelValues(metrics.ErrSink))-before)
}

func TestAttachExitsWhenKicked(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	h.OutBufSize = 1
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	slow := SinkFunc(func(bms.Sample) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-block
		return nil
	})
	var wg sync.WaitGroup
	h.Attach(context.Background(), "slow", slow, &wg)

	h.Broadcast(sample("v", 1))
	<-entered
	h.Broadcast(sample("v", 2)) // queued
	h.Broadcast(sample("v", 3)) // overflow: kicked
	close(block)
	wg.Wait()
	assert.Equal(t, 0, h.Count())
}
