package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-cansim/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series
var (
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_ticks_total",
		Help: "Total transmit scheduler ticks executed.",
	})
	TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_ticks_skipped_total",
		Help: "Ticks dropped because a reconfiguration or setter held the controller.",
	})
	FramesTx = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cansim_tx_frames_total",
		Help: "CAN frames transmitted, by message kind.",
	}, []string{"kind"})
	TxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_tx_dropped_total",
		Help: "Frames dropped on transmit timeout or bus error.",
	})
	RxDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_rx_drained_total",
		Help: "Inbound frames drained and discarded to keep the bus serviced.",
	})
	Reconfigs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_bus_reconfigurations_total",
		Help: "Completed bus stop/uninstall/install/start sequences.",
	})
	ReconfigFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_bus_reconfiguration_failures_total",
		Help: "Reconfiguration sequences that left the bus unavailable.",
	})
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cansim_commands_total",
		Help: "Command-surface requests, by command name.",
	}, []string{"command"})
	CommandErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cansim_command_errors_total",
		Help: "Command-surface requests answered with an error status.",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cansim_command_clients",
		Help: "Current number of connected command clients.",
	})
	SpeedKmh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cansim_speed_kmh",
		Help: "Currently simulated speed.",
	})
	BusState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cansim_bus_state",
		Help: "Bus lifecycle state (0 stopped, 1 installed, 2 running).",
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
	ErrBusInstall   = "bus_install"
	ErrBusStart     = "bus_start"
	ErrBusStop      = "bus_stop"
	ErrBusUninstall = "bus_uninstall"
	ErrBusTransmit  = "bus_transmit"
	ErrBusReceive   = "bus_receive"
	ErrClientRead   = "client_read"
	ErrClientWrite  = "client_write"
	ErrSerialRead   = "serial_read"
	ErrSerialWrite  = "serial_write"
)

// Frame kind label values.
const (
	KindGear  = "gear"
	KindSpeed = "speed"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
// If mux is nil a fresh mux is created; callers pass their own to mount
// additional handlers (the status feed) on the same listener.
func StartHTTP(addr string, mux *http.ServeMux) *http.Server {
	if mux == nil {
		mux = http.NewServeMux()
	}
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
	localTicks       uint64
	localTickSkips   uint64
	localTxGear      uint64
	localTxSpeed     uint64
	localTxDropped   uint64
	localRxDrained   uint64
	localReconfigs   uint64
	localReconfigErr uint64
	localCommands    uint64
	localCmdErrors   uint64
	localErrors      uint64
	localClients     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Ticks            uint64
	TicksSkipped     uint64
	TxGear           uint64
	TxSpeed          uint64
	TxDropped        uint64
	RxDrained        uint64
	Reconfigs        uint64
	ReconfigFailures uint64
	Commands         uint64
	CommandErrors    uint64
	Errors           uint64 // sum across error labels
	Clients          uint64
}

func Snap() Snapshot {
	return Snapshot{
		Ticks:            atomic.LoadUint64(&localTicks),
		TicksSkipped:     atomic.LoadUint64(&localTickSkips),
		TxGear:           atomic.LoadUint64(&localTxGear),
		TxSpeed:          atomic.LoadUint64(&localTxSpeed),
		TxDropped:        atomic.LoadUint64(&localTxDropped),
		RxDrained:        atomic.LoadUint64(&localRxDrained),
		Reconfigs:        atomic.LoadUint64(&localReconfigs),
		ReconfigFailures: atomic.LoadUint64(&localReconfigErr),
		Commands:         atomic.LoadUint64(&localCommands),
		CommandErrors:    atomic.LoadUint64(&localCmdErrors),
		Errors:           atomic.LoadUint64(&localErrors),
		Clients:          atomic.LoadUint64(&localClients),
	}
}

// Wrapper helpers to keep call sites simple.
func IncTick() {
	Ticks.Inc()
	atomic.AddUint64(&localTicks, 1)
}

func IncTickSkipped() {
	TicksSkipped.Inc()
	atomic.AddUint64(&localTickSkips, 1)
}

func IncTxGear() {
	FramesTx.WithLabelValues(KindGear).Inc()
	atomic.AddUint64(&localTxGear, 1)
}

func IncTxSpeed() {
	FramesTx.WithLabelValues(KindSpeed).Inc()
	atomic.AddUint64(&localTxSpeed, 1)
}

func IncTxDropped() {
	TxDropped.Inc()
	atomic.AddUint64(&localTxDropped, 1)
}

func IncRxDrained() {
	RxDrained.Inc()
	atomic.AddUint64(&localRxDrained, 1)
}

func IncReconfig() {
	Reconfigs.Inc()
	atomic.AddUint64(&localReconfigs, 1)
}

func IncReconfigFailure() {
	ReconfigFailures.Inc()
	atomic.AddUint64(&localReconfigErr, 1)
}

func IncCommand(name string) {
	Commands.WithLabelValues(name).Inc()
	atomic.AddUint64(&localCommands, 1)
}

func IncCommandError() {
	CommandErrors.Inc()
	atomic.AddUint64(&localCmdErrors, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func SetClients(n int) {
	ActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func SetSpeed(kmh int) { SpeedKmh.Set(float64(kmh)) }

func SetBusState(s int) { BusState.Set(float64(s)) }

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so the first error does not pay
	// the registration latency.
	for _, lbl := range []string{
		ErrBusInstall, ErrBusStart, ErrBusStop, ErrBusUninstall,
		ErrBusTransmit, ErrBusReceive,
		ErrClientRead, ErrClientWrite, ErrSerialRead, ErrSerialWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	FramesTx.WithLabelValues(KindGear).Add(0)
	FramesTx.WithLabelValues(KindSpeed).Add(0)
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
