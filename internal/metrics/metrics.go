package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/xscope-harness/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xscope_events_total",
		Help: "Instrumentation events delivered to the demultiplexer, by kind.",
	}, []string{"kind"})
	MalformedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xscope_malformed_events_total",
		Help: "Control events discarded because of a length mismatch, by kind.",
	}, []string{"kind"})
	PrintBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xscope_print_bytes_total",
		Help: "Device print bytes forwarded to the diagnostic stream.",
	})
	CommandsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xscope_commands_total",
		Help: "Commands accepted by the instrumentation transport.",
	})
	CommandResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xscope_command_results_total",
		Help: "Command outcomes (ok, failed, timeout).",
	}, []string{"outcome"})
	UploadRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xscope_upload_retries_total",
		Help: "Upload resubmissions caused by a full channel.",
	})
	HandshakeTicks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xscope_handshake_ticks",
		Help: "Poll ticks spent waiting for the connection acknowledgement in the last handshake.",
	})
	WireFramesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xscope_wire_frames_rx_total",
		Help: "Wire frames decoded from the instrumentation link.",
	})
	WireFramesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xscope_wire_frames_tx_total",
		Help: "Wire frames written to the instrumentation link.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xscope_malformed_frames_total",
		Help: "Wire frames rejected (invalid length, unknown kind, bad checksum, truncated).",
	})
	EthFramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "l2_frames_sent_total",
		Help: "Raw Ethernet frames written to the host interface.",
	})
	EthBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "l2_bytes_sent_total",
		Help: "Raw Ethernet bytes written to the host interface.",
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
	ErrLinkRead      = "link_read"
	ErrLinkWrite     = "link_write"
	ErrHandshake     = "handshake"
	ErrChannelFull   = "channel_full"
	ErrCommand       = "command"
	ErrCommandTO     = "command_timeout"
	ErrSerialRead    = "serial_read"
	ErrEthWrite      = "eth_write"
	ErrCaptureWrite  = "capture_write"
	ErrDeviceSimConn = "devsim_conn"
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
	localConnectAcks   uint64
	localResults       uint64
	localPrints        uint64
	localPrintBytes    uint64
	localMalformedEvts uint64
	localCommands      uint64
	localCmdOK         uint64
	localCmdFailed     uint64
	localCmdTimeout    uint64
	localRetries       uint64
	localHSTicks       uint64
	localWireRx        uint64
	localWireTx        uint64
	localMalformed     uint64
	localEthFrames     uint64
	localEthBytes      uint64
	localErrors        uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	ConnectAcks     uint64
	CommandResults  uint64
	Prints          uint64
	PrintBytes      uint64
	MalformedEvents uint64
	Commands        uint64
	CommandsOK      uint64
	CommandsFailed  uint64
	CommandTimeouts uint64
	UploadRetries   uint64
	HandshakeTicks  uint64
	WireRx          uint64
	WireTx          uint64
	Malformed       uint64
	EthFrames       uint64
	EthBytes        uint64
	Errors          uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		ConnectAcks:     atomic.LoadUint64(&localConnectAcks),
		CommandResults:  atomic.LoadUint64(&localResults),
		Prints:          atomic.LoadUint64(&localPrints),
		PrintBytes:      atomic.LoadUint64(&localPrintBytes),
		MalformedEvents: atomic.LoadUint64(&localMalformedEvts),
		Commands:        atomic.LoadUint64(&localCommands),
		CommandsOK:      atomic.LoadUint64(&localCmdOK),
		CommandsFailed:  atomic.LoadUint64(&localCmdFailed),
		CommandTimeouts: atomic.LoadUint64(&localCmdTimeout),
		UploadRetries:   atomic.LoadUint64(&localRetries),
		HandshakeTicks:  atomic.LoadUint64(&localHSTicks),
		WireRx:          atomic.LoadUint64(&localWireRx),
		WireTx:          atomic.LoadUint64(&localWireTx),
		Malformed:       atomic.LoadUint64(&localMalformed),
		EthFrames:       atomic.LoadUint64(&localEthFrames),
		EthBytes:        atomic.LoadUint64(&localEthBytes),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

// IncEvent counts a demultiplexed event of the given kind label.
func IncEvent(kind string) {
	EventsReceived.WithLabelValues(kind).Inc()
	switch kind {
	case "connect_ack":
		atomic.AddUint64(&localConnectAcks, 1)
	case "command_result":
		atomic.AddUint64(&localResults, 1)
	default:
		atomic.AddUint64(&localPrints, 1)
	}
}

func IncMalformedEvent(kind string) {
	MalformedEvents.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localMalformedEvts, 1)
}

func AddPrintBytes(n int) {
	PrintBytes.Add(float64(n))
	atomic.AddUint64(&localPrintBytes, uint64(n))
}

func IncCommand() {
	CommandsIssued.Inc()
	atomic.AddUint64(&localCommands, 1)
}

// Command outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

func IncCommandResult(outcome string) {
	CommandResults.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeOK:
		atomic.AddUint64(&localCmdOK, 1)
	case OutcomeFailed:
		atomic.AddUint64(&localCmdFailed, 1)
	case OutcomeTimeout:
		atomic.AddUint64(&localCmdTimeout, 1)
	}
}

func IncUploadRetry() {
	UploadRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func SetHandshakeTicks(n int) {
	HandshakeTicks.Set(float64(n))
	atomic.StoreUint64(&localHSTicks, uint64(n))
}

func IncWireRx() {
	WireFramesRx.Inc()
	atomic.AddUint64(&localWireRx, 1)
}

func IncWireTx() {
	WireFramesTx.Inc()
	atomic.AddUint64(&localWireTx, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// AddEthFrame records one transmitted Ethernet frame of n bytes.
func AddEthFrame(n int) {
	EthFramesSent.Inc()
	EthBytesSent.Add(float64(n))
	atomic.AddUint64(&localEthFrames, 1)
	atomic.AddUint64(&localEthBytes, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrLinkRead, ErrLinkWrite, ErrHandshake,
		ErrChannelFull, ErrCommand, ErrCommandTO,
		ErrSerialRead, ErrEthWrite, ErrCaptureWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, o := range []string{OutcomeOK, OutcomeFailed, OutcomeTimeout} {
		CommandResults.WithLabelValues(o).Add(0)
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
