package bms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

// Sample is one decoded parameter value.
type Sample struct {
	FrameID FrameID
	Name    string
	Value   float64
	Unit    string
	At      time.Time
}

// Reporter receives decoded samples. Implementations must not block the
// caller for long: Report runs on the receive path.
type Reporter interface {
	Report(Sample)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Sample)

func (f ReporterFunc) Report(s Sample) { f(s) }

// Raw is the integer read from a payload before scaling.
type Raw struct {
	Bits   uint64 // the Width*8 bits as read, zero-extended
	Width  int
	Signed bool
}

// Int64 returns the two's-complement value when Signed, else the bits as-is.
func (r Raw) Int64() int64 {
	if !r.Signed || r.Width >= 8 {
		return int64(r.Bits)
	}
	shift := uint(64 - 8*r.Width)
	return int64(r.Bits<<shift) >> shift
}

// Float converts without losing the sign or the top bit of 8-byte unsigned values.
func (r Raw) Float() float64 {
	if r.Signed {
		return float64(r.Int64())
	}
	return float64(r.Bits)
}

// DecodeRaw reads p.Length bytes at p.Offset, most significant byte first.
// A field that does not fit in payload yields a *BoundsError.
func DecodeRaw(p Parameter, payload []byte) (Raw, error) {
	if p.Offset < 0 || p.Length < 1 || p.Length > 8 || p.Offset > len(payload)-p.Length {
		return Raw{}, &BoundsError{Field: p.Name, Offset: p.Offset, Length: p.Length, PayloadLen: len(payload)}
	}
	var u uint64
	for _, b := range payload[p.Offset : p.Offset+p.Length] {
		u = u<<8 | uint64(b)
	}
	return Raw{Bits: u, Width: p.Length, Signed: p.Signed}, nil
}

// DecodeField returns raw * p.Factor.
func DecodeField(p Parameter, payload []byte) (float64, error) {
	r, err := DecodeRaw(p, payload)
	if err != nil {
		return 0, err
	}
	return r.Float() * p.Factor, nil
}

// legacyInt16 rewrites p to always decode a big-endian int16 at its offset.
func legacyInt16(p Parameter) Parameter {
	p.Length = 2
	p.Signed = true
	return p
}

// Decoder turns inbound frames into samples using a Model. It holds no
// mutable state and may be called from any goroutine.
type Decoder struct {
	model    *Model
	reporter Reporter
	log      *slog.Logger
	legacy   bool
	now      func() time.Time
}

type DecoderOption func(*Decoder)

// WithReporter forwards every decoded sample to r.
func WithReporter(r Reporter) DecoderOption { return func(d *Decoder) { d.reporter = r } }

func WithDecoderLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.log = l
		}
	}
}

// WithLegacyInt16 ignores the configured len/is_signed and reads every
// field as a big-endian int16, matching older device firmware tooling.
func WithLegacyInt16(on bool) DecoderOption { return func(d *Decoder) { d.legacy = on } }

// WithClock sets the sample timestamp source (tests).
func WithClock(now func() time.Time) DecoderOption {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDecoder(m *Model, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		model: m,
		log:   logging.Component("decoder"),
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// HandleFrame decodes every parameter configured for the frame's id, in
// declared order, reports each sample and returns them. Remote frames and
// frames with an unconfigured id are ignored. A field outside the payload is
// skipped and the rest of the group still decodes.
func (d *Decoder) HandleFrame(fr can.Frame) []Sample {
	metrics.IncRx()
	if d.log.Enabled(context.Background(), slog.LevelDebug) {
		d.log.Debug("frame_rx", "frame", fr.String())
	}
	id := FrameIDOf(fr)
	group, ok := d.model.group(id)
	// a remote request carries a DLC but no data
	if !ok || fr.Remote() {
		metrics.IncUnknownFrame()
		return nil
	}
	payload := fr.Payload()
	at := d.now()
	out := make([]Sample, 0, len(group))
	for _, p := range group {
		if d.legacy {
			p = legacyInt16(p)
		}
		v, err := DecodeField(p, payload)
		if err != nil {
			var be *BoundsError
			if errors.As(err, &be) {
				be.Group = id
			}
			metrics.IncDecodeError(metricKind(err))
			d.log.Warn("decode_field_skipped", "id", int(id), "field", p.Name, "error", err)
			continue
		}
		s := Sample{FrameID: id, Name: p.Name, Value: v, Unit: p.Unit, At: at}
		metrics.IncDecodedSample()
		d.log.Debug("frame_decoded", "id", int(id), "name", s.Name, "value", s.Value, "unit", s.Unit)
		if d.reporter != nil {
			d.reporter.Report(s)
		}
		out = append(out, s)
	}
	return out
}
