package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

func sample(name string, v float64) bms.Sample {
	return bms.Sample{FrameID: 0x02, Name: name, Value: v, Unit: "V", At: time.Unix(1700000000, 0)}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient("slow", 4)
	h.Add(cl)
	defer h.Remove(cl)

	before := testutil.ToFloat64(metrics.TelemetryDropped)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(sample("voltage", float64(i)))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	assert.Equal(t, cap(cl.Out), len(cl.Out), "buffer should be full")
	assert.Equal(t, 996.0, testutil.ToFloat64(metrics.TelemetryDropped)-before)
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := NewClient("slow", 1)
	fast := NewClient("fast", 16)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	for i := 0; i < 10; i++ {
		h.Broadcast(sample("v", float64(i)))
	}
	assert.Len(t, slow.Out, 1)
	assert.Len(t, fast.Out, 10)
	first := <-fast.Out
	assert.Equal(t, 0.0, first.Value, "samples keep order per sink")
}

func TestHub_KickClosesFullClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	cl := NewClient("slow", 1)
	h.Add(cl)
	defer h.Remove(cl)

	before := testutil.ToFloat64(metrics.TelemetryKicked)
	h.Broadcast(sample("v", 1))
	h.Broadcast(sample("v", 2))
	select {
	case <-cl.Closed:
	default:
		t.Fatal("client should be closed after overflow with kick policy")
	}
	h.Broadcast(sample("v", 3))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TelemetryKicked)-before, "closed client is not kicked twice")
}

func TestHub_AddRemoveCount(t *testing.T) {
	h := New()
	a, b := NewClient("a", 1), NewClient("b", 1)
	h.Add(a)
	h.Add(b)
	assert.Equal(t, 2, h.Count())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TelemetrySinks))
	h.Remove(a)
	h.Remove(a)
	assert.Equal(t, 1, h.Count())
	h.Remove(b)
	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.TelemetrySinks))
}

func TestHub_ReportImplementsReporter(t *testing.T) {
	h := New()
	cl := NewClient("c", 2)
	h.Add(cl)
	defer h.Remove(cl)
	var r bms.Reporter = h
	r.Report(sample("soc", 55))
	got := <-cl.Out
	assert.Equal(t, "soc", got.Name)
}

func TestHub_AttachDrainsAndRemoves(t *testing.T) {
	h := New()
	h.OutBufSize = 8
	lv := NewLastValues()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	h.Attach(ctx, "last", lv, &wg)
	require.Equal(t, 1, h.Count())

	h.Broadcast(sample("voltage", 12.5))
	require.Eventually(t, func() bool {
		_, ok := lv.Get("voltage")
		return ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, 0, h.Count())
}

func TestParsePolicy(t *testing.T) {
	p, ok := ParsePolicy("kick")
	assert.True(t, ok)
	assert.Equal(t, PolicyKick, p)
	assert.Equal(t, "kick", p.String())
	p, ok = ParsePolicy("block")
	assert.False(t, ok)
	assert.Equal(t, PolicyDrop, p)
}

func BenchmarkHubBroadcast(b *testing.B) {
	h := New()
	for i := 0; i < 4; i++ {
		c := NewClient("bench", 1)
		h.Add(c)
	}
	s := sample("voltage", 1)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		h.Broadcast(s)
	}
}
