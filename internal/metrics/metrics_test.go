package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersMirrorSnapshot(t *testing.T) {
	before := Snap()
	promBefore := testutil.ToFloat64(DecodeErrors.WithLabelValues(DecodeBounds))
	IncRx()
	IncDecodeError(DecodeBounds)
	IncConfigWarning(ConfigUnknownKey)
	after := Snap()
	if after.RxFrames != before.RxFrames+1 {
		t.Fatalf("RxFrames = %d, want %d", after.RxFrames, before.RxFrames+1)
	}
	if after.DecodeErrors != before.DecodeErrors+1 || after.ConfigWarns != before.ConfigWarns+1 {
		t.Fatalf("unexpected snapshot %+v (before %+v)", after, before)
	}
	if got := testutil.ToFloat64(DecodeErrors.WithLabelValues(DecodeBounds)); got != promBefore+1 {
		t.Fatalf("prometheus bounds counter = %v, want %v", got, promBefore+1)
	}
}

func TestParameterValueGauge(t *testing.T) {
	SetParameterValue("voltage", "V", 10)
	if got := testutil.ToFloat64(ParameterValue.WithLabelValues("voltage", "V")); got != 10 {
		t.Fatalf("gauge = %v, want 10", got)
	}
}

func TestReadyHandler(t *testing.T) {
	defer SetReadinessFunc(nil)
	SetReadinessFunc(func() bool { return false })
	rec := httptest.NewRecorder()
	readyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	SetReadinessFunc(func() bool { return true })
	rec = httptest.NewRecorder()
	readyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
