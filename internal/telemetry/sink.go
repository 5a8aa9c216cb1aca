package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

// Sink consumes samples on its own goroutine.
type Sink interface {
	Write(bms.Sample) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(bms.Sample) error

func (f SinkFunc) Write(s bms.Sample) error { return f(s) }

// Attach registers sink with the hub and drains its queue until ctx is done
// or the hub kicks the client. The sink is removed from the hub on exit.
func (h *Hub) Attach(ctx context.Context, name string, sink Sink, wg *sync.WaitGroup) *Client {
	c := NewClient(name, h.OutBufSize)
	h.Add(c)
	l := logging.Component("telemetry").With("sink", name)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer h.Remove(c)
		for {
			select {
			case s := <-c.Out:
				if err := sink.Write(s); err != nil {
					metrics.IncError(metrics.ErrSink)
					l.Warn("sink_write_error", "name", s.Name, "error", err)
				}
			case <-c.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return c
}

// LogSink logs each sample at Info.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Write(smp bms.Sample) error {
	l := s.Log
	if l == nil {
		l = logging.L()
	}
	l.Info("sample", "id", int(smp.FrameID), "name", smp.Name, "value", smp.Value, "unit", smp.Unit)
	return nil
}

// PromSink exports each sample as the bms_parameter_value gauge.
type PromSink struct{}

func (PromSink) Write(s bms.Sample) error {
	metrics.SetParameterValue(s.Name, s.Unit, s.Value)
	return nil
}

// LastValues keeps the most recent sample per parameter name.
type LastValues struct {
	mu   sync.RWMutex
	last map[string]bms.Sample
}

func NewLastValues() *LastValues { return &LastValues{last: make(map[string]bms.Sample)} }

func (v *LastValues) Write(s bms.Sample) error {
	v.mu.Lock()
	v.last[s.Name] = s
	v.mu.Unlock()
	return nil
}

// Get returns the last sample recorded for name.
func (v *LastValues) Get(name string) (bms.Sample, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s, ok := v.last[name]
	return s, ok
}

// All returns every recorded sample ordered by name.
func (v *LastValues) All() []bms.Sample {
	v.mu.RLock()
	out := make([]bms.Sample, 0, len(v.last))
	for _, s := range v.last {
		out = append(out, s)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
