package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-bms-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_rx_frames_total",
		Help: "Total CAN frames received from the backend.",
	})
	UnknownFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_unknown_frames_total",
		Help: "Received frames whose id has no configured parameter group.",
	})
	PollRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_poll_requests_total",
		Help: "Poll requests handed to the CAN backend.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_tx_frames_total",
		Help: "CAN frames written by the backend.",
	})
	DecodedSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_decoded_samples_total",
		Help: "Parameter values decoded from received frames.",
	})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_decode_errors_total",
		Help: "Fields skipped while decoding, by kind.",
	}, []string{"kind"})
	ConfigWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_config_warnings_total",
		Help: "Non-fatal configuration problems found while loading parameters.",
	}, []string{"kind"})
	TelemetryDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_telemetry_dropped_total",
		Help: "Samples dropped because a sink queue was full.",
	})
	TelemetryKicked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_telemetry_kicked_sinks_total",
		Help: "Sinks closed by the kick backpressure policy.",
	})
	TelemetrySinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bms_telemetry_sinks",
		Help: "Currently attached telemetry sinks.",
	})
	ParameterValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bms_parameter_value",
		Help: "Last decoded physical value per configured parameter.",
	}, []string{"name", "unit"})
	PollCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bms_poll_cursor",
		Help: "Position of the next id to poll in each poll list.",
	}, []string{"list"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Rejected malformed serial-line records.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrPollSend       = "poll_send"
	ErrMQTTPublish    = "mqtt_publish"
	ErrMQTTOverflow   = "mqtt_overflow"
	ErrSink           = "sink_write"
)

// Decode error kinds.
const (
	DecodeBounds = "bounds"
)

// Config warning kinds.
const (
	ConfigUnknownKey = "unknown_key"
	ConfigFieldType  = "field_type"
	ConfigMissing    = "section_missing"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", readyHandler)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	if IsReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready\n"))
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx        uint64
	localUnknown   uint64
	localPolls     uint64
	localTx        uint64
	localSamples   uint64
	localDecodeErr uint64
	localWarnings  uint64
	localDropped   uint64
	localKicked    uint64
	localSinks     uint64
	localErrors    uint64
	localMalformed uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxFrames      uint64
	UnknownFrames uint64
	PollRequests  uint64
	TxFrames      uint64
	Samples       uint64
	DecodeErrors  uint64
	ConfigWarns   uint64
	Dropped       uint64
	Kicked        uint64
	Sinks         uint64
	Errors        uint64 // sum across error labels
	Malformed     uint64
}

func Snap() Snapshot {
	return Snapshot{
		RxFrames:      atomic.LoadUint64(&localRx),
		UnknownFrames: atomic.LoadUint64(&localUnknown),
		PollRequests:  atomic.LoadUint64(&localPolls),
		TxFrames:      atomic.LoadUint64(&localTx),
		Samples:       atomic.LoadUint64(&localSamples),
		DecodeErrors:  atomic.LoadUint64(&localDecodeErr),
		ConfigWarns:   atomic.LoadUint64(&localWarnings),
		Dropped:       atomic.LoadUint64(&localDropped),
		Kicked:        atomic.LoadUint64(&localKicked),
		Sinks:         atomic.LoadUint64(&localSinks),
		Errors:        atomic.LoadUint64(&localErrors),
		Malformed:     atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncUnknownFrame() {
	UnknownFrames.Inc()
	atomic.AddUint64(&localUnknown, 1)
}

func IncPollRequest() {
	PollRequests.Inc()
	atomic.AddUint64(&localPolls, 1)
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncDecodedSample() {
	DecodedSamples.Inc()
	atomic.AddUint64(&localSamples, 1)
}

func IncDecodeError(kind string) {
	DecodeErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localDecodeErr, 1)
}

func IncConfigWarning(kind string) {
	ConfigWarnings.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localWarnings, 1)
}

func IncTelemetryDrop() {
	TelemetryDropped.Inc()
	atomic.AddUint64(&localDropped, 1)
}

func IncTelemetryKick() {
	TelemetryKicked.Inc()
	atomic.AddUint64(&localKicked, 1)
}

func SetTelemetrySinks(n int) {
	TelemetrySinks.Set(float64(n))
	atomic.StoreUint64(&localSinks, uint64(n))
}

// SetParameterValue records the last decoded value of a parameter.
func SetParameterValue(name, unit string, v float64) {
	ParameterValue.WithLabelValues(name, unit).Set(v)
}

// SetPollCursor publishes the cursor position of a poll list ("a" or "b").
func SetPollCursor(list string, pos int) {
	PollCursor.WithLabelValues(list).Set(float64(pos))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register label series so dashboards see zeros before the first event.
	for _, lbl := range []string{
		ErrSerialRead, ErrSerialWrite, ErrSerialOverflow,
		ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver,
		ErrPollSend, ErrMQTTPublish, ErrMQTTOverflow, ErrSink,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	DecodeErrors.WithLabelValues(DecodeBounds).Add(0)
	for _, k := range []string{ConfigUnknownKey, ConfigFieldType, ConfigMissing} {
		ConfigWarnings.WithLabelValues(k).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
