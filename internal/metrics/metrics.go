// Package metrics exposes the library's Prometheus instrumentation plus a
// cheap local mirror of the counters for in-process logging, so callers
// can periodically log a snapshot without scraping themselves.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-canif/internal/logging"
)

// Prometheus collectors.
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canif_rx_frames_total",
		Help: "Total data frames dispatched from the reactor.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canif_tx_frames_total",
		Help: "Total frames written to the TX socket.",
	})
	ErrorFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canif_error_frames_total",
		Help: "Total link error frames delivered to error handlers.",
	})
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canif_dropped_frames_total",
		Help: "Total frames the kernel dropped on receive queues.",
	})
	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canif_tx_retry_total",
		Help: "Total transmit attempts rejected with a full queue.",
	})
	RxSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canif_rx_sockets",
		Help: "Currently open RX sockets.",
	})
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canif_stream_clients",
		Help: "Currently connected stream clients (can-monitor).",
	})
	StreamDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canif_stream_dropped_frames_total",
		Help: "Frames dropped towards slow stream clients.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canif_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTxWrite     = "tx_write"
	ErrRecv        = "recv"
	ErrNetDown     = "netdown"
	ErrNetlink     = "netlink"
	ErrStreamWrite = "stream_write"
	ErrSerialRead  = "serial_read"
	ErrSerialWrite = "serial_write"
)

// Local mirrored counters.
var (
	localRx        uint64
	localTx        uint64
	localErrFrames uint64
	localDropped   uint64
	localTxRetry   uint64
	localErrors    uint64
	localStreamDrp uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	RxFrames    uint64
	TxFrames    uint64
	ErrorFrames uint64
	Dropped     uint64
	TxRetries   uint64
	Errors      uint64
	StreamDrops uint64
}

func Snap() Snapshot {
	return Snapshot{
		RxFrames:    atomic.LoadUint64(&localRx),
		TxFrames:    atomic.LoadUint64(&localTx),
		ErrorFrames: atomic.LoadUint64(&localErrFrames),
		Dropped:     atomic.LoadUint64(&localDropped),
		TxRetries:   atomic.LoadUint64(&localTxRetry),
		Errors:      atomic.LoadUint64(&localErrors),
		StreamDrops: atomic.LoadUint64(&localStreamDrp),
	}
}

func IncRxFrames() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTxFrames() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncErrorFrames() {
	ErrorFrames.Inc()
	atomic.AddUint64(&localErrFrames, 1)
}

func AddDropped(n uint64) {
	DroppedFrames.Add(float64(n))
	atomic.AddUint64(&localDropped, n)
}

func IncTxRetry() {
	TxRetries.Inc()
	atomic.AddUint64(&localTxRetry, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncStreamDrop() {
	StreamDrops.Inc()
	atomic.AddUint64(&localStreamDrp, 1)
}

func SetRxSockets(n int)     { RxSockets.Set(float64(n)) }
func SetStreamClients(n int) { StreamClients.Set(float64(n)) }

// InitBuildInfo sets the build info gauge and pre-registers the common
// error label series.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTxWrite, ErrRecv, ErrNetDown, ErrNetlink,
		ErrStreamWrite, ErrSerialRead, ErrSerialWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function consulted by /ready.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady invokes the registered readiness function; with none set it
// reports ready so the metrics endpoint does not flap during startup.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// StartHTTP serves /metrics and /ready on addr in a background goroutine.
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
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
