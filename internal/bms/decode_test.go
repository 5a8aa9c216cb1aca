package bms

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/kstaniek/go-bms-bridge/internal/metrics"
)

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testDecoder(m *Model, opts ...DecoderOption) *Decoder {
	base := []DecoderOption{
		WithDecoderLogger(logging.Discard()),
		WithClock(func() time.Time { return fixedTime }),
	}
	return NewDecoder(m, append(base, opts...)...)
}

func TestDecodeVoltageScenario(t *testing.T) {
	m := NewModel(map[FrameID]Group{
		0x02: {{Name: "voltage", Offset: 0, Length: 2, Signed: true, Factor: 0.01}},
	}, nil, nil)
	samples := testDecoder(m).HandleFrame(can.NewStandard(0x02, 0x03, 0xE8, 0x00, 0x00))
	require.Len(t, samples, 1)
	assert.Equal(t, "voltage", samples[0].Name)
	assert.InDelta(t, 10.00, samples[0].Value, 1e-9)
}

func TestDecodeRawWidthAndSign(t *testing.T) {
	tests := []struct {
		name     string
		payload  []byte
		length   int
		signed   int64
		unsigned float64
	}{
		{"u8max", []byte{0xFF}, 1, -1, 255},
		{"u8min", []byte{0x80}, 1, -128, 128},
		{"i8pos", []byte{0x7F}, 1, 127, 127},
		{"i16min", []byte{0x80, 0x00}, 2, -32768, 32768},
		{"i16max", []byte{0x7F, 0xFF}, 2, 32767, 32767},
		{"i16neg", []byte{0xFF, 0x38}, 2, -200, 65336},
		{"i32neg", []byte{0xFF, 0xFF, 0xFF, 0xFE}, 4, -2, 4294967294},
		{"i32pos", []byte{0x00, 0x01, 0x00, 0x00}, 4, 65536, 65536},
		{"i64neg", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, 8, -1, math.MaxUint64},
		{"i24neg", []byte{0xFF, 0xFF, 0xFF}, 3, -1, 16777215},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := Parameter{Name: tc.name, Length: tc.length, Factor: 1}
			p.Signed = true
			rs, err := DecodeRaw(p, tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.signed, rs.Int64())
			assert.Equal(t, float64(tc.signed), rs.Float())

			p.Signed = false
			ru, err := DecodeRaw(p, tc.payload)
			require.NoError(t, err)
			assert.Equal(t, rs.Bits, ru.Bits, "same bytes, same bits")
			assert.Equal(t, tc.unsigned, ru.Float())
			assert.GreaterOrEqual(t, ru.Float(), 0.0)
		})
	}
}

func TestDecodeSignedRoundTrip(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 1000, -1000, math.MaxInt32, math.MinInt32} {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint32(buf[2:], uint32(v))
		r, err := DecodeRaw(Parameter{Offset: 2, Length: 4, Signed: true}, buf)
		require.NoError(t, err)
		assert.Equal(t, int64(v), r.Int64())
		u, err := DecodeRaw(Parameter{Offset: 2, Length: 4}, buf)
		require.NoError(t, err)
		assert.Equal(t, float64(uint32(v)), u.Float())
	}
}

// Every 16-bit pattern decodes into the int16 range and scales exactly.
func TestDecodeInt16Exhaustive(t *testing.T) {
	const factor = 0.25 // exactly representable
	p := Parameter{Name: "current", Offset: 3, Length: 2, Signed: true, Factor: factor}
	payload := make([]byte, 8)
	for i := 0; i <= 0xFFFF; i++ {
		binary.BigEndian.PutUint16(payload[3:], uint16(i))
		r, err := DecodeRaw(p, payload)
		require.NoError(t, err)
		raw := r.Int64()
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			t.Fatalf("pattern 0x%04X decoded to %d", i, raw)
		}
		if raw != int64(int16(uint16(i))) {
			t.Fatalf("pattern 0x%04X decoded to %d, want %d", i, raw, int16(uint16(i)))
		}
		v, _ := DecodeField(p, payload)
		if v != float64(raw)*factor {
			t.Fatalf("pattern 0x%04X: value %v != %v", i, v, float64(raw)*factor)
		}
	}
}

func TestDecodeBoundsSkipsOnlyThatField(t *testing.T) {
	m := NewModel(map[FrameID]Group{
		0x06: {
			{Name: "overflow", Offset: 6, Length: 4, Signed: false, Factor: 1},
			{Name: "temp", Offset: 0, Length: 1, Signed: true, Factor: 1, Unit: "C"},
		},
	}, nil, nil)
	fr := can.NewStandard(0x06, 0xEC, 1, 2, 3, 4, 5, 6, 7)
	samples := testDecoder(m).HandleFrame(fr)
	want := []Sample{{FrameID: 0x06, Name: "temp", Value: -20, Unit: "C", At: fixedTime}}
	if diff := cmp.Diff(want, samples); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}

	_, err := DecodeField(Parameter{Name: "overflow", Offset: 6, Length: 4}, fr.Payload())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecodeBounds)
	var be *BoundsError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 8, be.PayloadLen)
}

func TestDecodeShortPayload(t *testing.T) {
	m := NewModel(map[FrameID]Group{
		0x03: {
			{Name: "a", Offset: 0, Length: 2, Signed: true, Factor: 1},
			{Name: "b", Offset: 2, Length: 2, Signed: true, Factor: 1},
		},
	}, nil, nil)
	samples := testDecoder(m).HandleFrame(can.NewStandard(0x03, 0x00, 0x05, 0x01))
	require.Len(t, samples, 1)
	assert.Equal(t, "a", samples[0].Name)
	assert.Equal(t, 5.0, samples[0].Value)
}

func TestDecodeUnknownIDIgnored(t *testing.T) {
	m := NewModel(map[FrameID]Group{0x02: {{Name: "v", Length: 2, Factor: 1}}}, nil, nil)
	called := false
	d := testDecoder(m, WithReporter(ReporterFunc(func(Sample) { called = true })))
	assert.Nil(t, d.HandleFrame(can.NewStandard(0x7F, 1, 2)))
	assert.False(t, called)
	// The id space is one byte wide: 0x102 shares the low byte with 0x02.
	assert.Len(t, d.HandleFrame(can.NewStandard(0x102, 1, 2)), 1)
	assert.True(t, called)
}

func TestDecodeRemoteFrameIgnored(t *testing.T) {
	m := NewModel(map[FrameID]Group{0x02: {{Name: "voltage", Length: 2, Signed: true, Factor: 0.01}}}, nil, nil)
	called := false
	d := testDecoder(m, WithReporter(ReporterFunc(func(Sample) { called = true })))
	before := metrics.Snap().UnknownFrames

	for _, fr := range []can.Frame{
		{CANID: 0x102 | can.CAN_RTR_FLAG, Len: 2},
		{CANID: 0x02 | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG, Len: 8},
	} {
		require.True(t, fr.Remote())
		assert.Nil(t, d.HandleFrame(fr), fr.String())
	}
	assert.False(t, called)
	assert.Equal(t, before+2, metrics.Snap().UnknownFrames)
}

func TestDecodeReportsInDeclaredOrder(t *testing.T) {
	m := NewModel(map[FrameID]Group{
		0x15: {
			{Name: "soc", Offset: 2, Length: 1, Factor: 0.5, Unit: "%"},
			{Name: "current", Offset: 0, Length: 2, Signed: true, Factor: 0.5, Unit: "A"},
			{Name: "status", Offset: 3, Length: 1, Factor: 1},
		},
	}, nil, nil)
	var got []Sample
	d := testDecoder(m, WithReporter(ReporterFunc(func(s Sample) { got = append(got, s) })))
	returned := d.HandleFrame(can.NewExtended(0x15, 0xFF, 0x9C, 0xC8, 0x03))
	want := []Sample{
		{FrameID: 0x15, Name: "soc", Value: 100, Unit: "%", At: fixedTime},
		{FrameID: 0x15, Name: "current", Value: -50, Unit: "A", At: fixedTime},
		{FrameID: 0x15, Name: "status", Value: 3, At: fixedTime},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reported samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, got, returned)
}

func TestDecodeLegacyInt16(t *testing.T) {
	m := NewModel(map[FrameID]Group{
		0x02: {{Name: "status", Offset: 0, Length: 1, Signed: false, Factor: 1}},
	}, nil, nil)
	fr := can.NewStandard(0x02, 0xFF, 0xFE)

	honored := testDecoder(m).HandleFrame(fr)
	require.Len(t, honored, 1)
	assert.Equal(t, 255.0, honored[0].Value)

	legacy := testDecoder(m, WithLegacyInt16(true)).HandleFrame(fr)
	require.Len(t, legacy, 1)
	assert.Equal(t, -2.0, legacy[0].Value)
}

func FuzzDecodeRaw(f *testing.F) {
	f.Add([]byte{0x03, 0xE8}, 0, 2, true)
	f.Add([]byte{1, 2, 3, 4, 5, 6, 7, 8}, 6, 4, false)
	f.Add([]byte{}, 0, 1, true)
	f.Fuzz(func(t *testing.T, payload []byte, offset, length int, signed bool) {
		p := Parameter{Offset: offset, Length: length, Signed: signed, Factor: 1}
		r, err := DecodeRaw(p, payload)
		fits := offset >= 0 && length >= 1 && length <= 8 && offset <= len(payload)-length
		if fits != (err == nil) {
			t.Fatalf("offset=%d len=%d payload=%d: err=%v", offset, length, len(payload), err)
		}
		if err != nil {
			return
		}
		if length < 8 && r.Bits>>(8*uint(length)) != 0 {
			t.Fatalf("bits 0x%X exceed width %d", r.Bits, length)
		}
		if signed && length < 8 {
			lim := int64(1) << (8*uint(length) - 1)
			if v := r.Int64(); v < -lim || v >= lim {
				t.Fatalf("signed value %d outside %d-byte range", v, length)
			}
		}
	})
}

func BenchmarkHandleFrame(b *testing.B) {
	m := NewModel(map[FrameID]Group{
		0x02: {
			{Name: "voltage", Offset: 0, Length: 2, Signed: true, Factor: 0.01},
			{Name: "current", Offset: 2, Length: 2, Signed: true, Factor: 0.01},
			{Name: "energy", Offset: 4, Length: 4, Signed: false, Factor: 0.1},
		},
	}, nil, nil)
	d := testDecoder(m)
	fr := can.NewStandard(0x02, 0x03, 0xE8, 0xFF, 0x9C, 0, 0, 1, 0)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = d.HandleFrame(fr)
	}
}
