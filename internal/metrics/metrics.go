package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-avr-can/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames written to the host endpoint for emulated mailboxes.",
	})
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames read from the host endpoint.",
	})
	RxMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_matched_total",
		Help: "Inbound frames accepted by a receive-enabled mailbox.",
	})
	RxUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_unmatched_total",
		Help: "Inbound frames dropped because no mailbox filter accepted them.",
	})
	RegisterWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mob_register_writes_total",
		Help: "Firmware writes to CAN controller registers.",
	})
	MobSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mob_switches_total",
		Help: "CANPAGE writes (mailbox context switches).",
	})
	TxQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tx_queue_depth",
		Help: "Frames waiting in the transmit queue at the last enqueue.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANShort = "socketcan_short_write"
	ErrSocketCANRead  = "socketcan_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialRead     = "serial_read"
	ErrSerialShort    = "serial_short_write"
	ErrTxOverflow     = "tx_overflow"
	ErrMalformed      = "malformed_frame"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

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

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localTx          uint64
	localRx          uint64
	localRxMatched   uint64
	localRxUnmatched uint64
	localRegWrites   uint64
	localSwitches    uint64
	localQueueDepth  uint64
	localErrors      uint64
	localErrorsBy    sync.Map // label -> *uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Tx             uint64
	Rx             uint64
	RxMatched      uint64
	RxUnmatched    uint64
	RegisterWrites uint64
	MobSwitches    uint64
	TxQueueDepth   uint64
	Errors         uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Tx:             atomic.LoadUint64(&localTx),
		Rx:             atomic.LoadUint64(&localRx),
		RxMatched:      atomic.LoadUint64(&localRxMatched),
		RxUnmatched:    atomic.LoadUint64(&localRxUnmatched),
		RegisterWrites: atomic.LoadUint64(&localRegWrites),
		MobSwitches:    atomic.LoadUint64(&localSwitches),
		TxQueueDepth:   atomic.LoadUint64(&localQueueDepth),
		Errors:         atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncRxMatched() {
	RxMatched.Inc()
	atomic.AddUint64(&localRxMatched, 1)
}

func IncRxUnmatched() {
	RxUnmatched.Inc()
	atomic.AddUint64(&localRxUnmatched, 1)
}

func IncRegisterWrite() {
	RegisterWrites.Inc()
	atomic.AddUint64(&localRegWrites, 1)
}

func IncMobSwitch() {
	MobSwitches.Inc()
	atomic.AddUint64(&localSwitches, 1)
}

// SetTxQueueDepth records the number of queued frames.
func SetTxQueueDepth(n int) {
	TxQueueDepth.Set(float64(n))
	atomic.StoreUint64(&localQueueDepth, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
	v, _ := localErrorsBy.LoadOrStore(label, new(uint64))
	atomic.AddUint64(v.(*uint64), 1)
}

// ErrorCount returns the local mirror of errors_total{where=label}.
func ErrorCount(label string) uint64 {
	if v, ok := localErrorsBy.Load(label); ok {
		return atomic.LoadUint64(v.(*uint64))
	}
	return 0
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so the first error does not pay the registration cost.
	for _, lbl := range []string{
		ErrSocketCANWrite, ErrSocketCANShort, ErrSocketCANRead,
		ErrSerialWrite, ErrSerialRead, ErrSerialShort, ErrTxOverflow, ErrMalformed,
	} {
		Errors.WithLabelValues(lbl).Add(0)
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
