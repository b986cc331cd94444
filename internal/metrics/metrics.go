// internal/metrics/metrics.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FramesTotal counts inbound binary frames by outcome
	// (dispatched | paused | stale | decode_error).
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "feed",
		Name:      "frames_total",
		Help:      "Inbound frames by outcome",
	}, []string{"outcome"})

	// DecodeErrors counts frames that failed to decode, by reason.
	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "packet",
		Name:      "decode_errors_total",
		Help:      "Frames dropped because they failed to decode",
	}, []string{"reason"})

	// DispatchLatency observes decode+format+dispatch time per frame.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketfeed",
		Subsystem: "feed",
		Name:      "dispatch_latency_seconds",
		Help:      "Time to decode, format and dispatch one frame",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
	})

	// CallbackPanics counts subscriber callbacks that panicked.
	CallbackPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "topic",
		Name:      "callback_panics_total",
		Help:      "Subscriber callbacks that panicked during dispatch",
	})

	// WireFrames counts outbound control frames by action.
	WireFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "feed",
		Name:      "control_frames_total",
		Help:      "Outbound control frames by action",
	}, []string{"action"})

	// ActiveTopics is the number of registered topics.
	ActiveTopics = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketfeed",
		Subsystem: "topic",
		Name:      "active",
		Help:      "Registered topics",
	})

	// Connects counts connection attempts by result (ok | error | no_credentials).
	Connects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "feed",
		Name:      "connects_total",
		Help:      "Connection attempts by result",
	}, []string{"result"})

	// Reconnects counts scheduled reconnects by trigger.
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Reconnects by trigger",
	}, []string{"trigger"})

	// State is 1 for the current connection state, 0 otherwise.
	State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "marketfeed",
		Subsystem: "feed",
		Name:      "state",
		Help:      "Connection state (1 = current)",
	}, []string{"state"})

	// SinkDrops counts events dropped by a sink because its buffer was full.
	SinkDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "sink",
		Name:      "drops_total",
		Help:      "Events dropped because the sink buffer was full",
	}, []string{"sink"})

	// SinkErrors counts failed sink writes.
	SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed",
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Failed sink writes",
	}, []string{"sink"})

	// NetworkOnline is 1 while the prober reaches the feed host.
	NetworkOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketfeed",
		Subsystem: "monitor",
		Name:      "network_online",
		Help:      "1 while the feed host is reachable",
	})
)

// Register registers every metric once. Without arguments it uses the
// default registerer.
func Register(registerers ...prometheus.Registerer) {
	once.Do(func() {
		reg := prometheus.DefaultRegisterer
		if len(registerers) > 0 && registerers[0] != nil {
			reg = registerers[0]
		}
		reg.MustRegister(
			FramesTotal,
			DecodeErrors,
			DispatchLatency,
			CallbackPanics,
			WireFrames,
			ActiveTopics,
			Connects,
			Reconnects,
			State,
			SinkDrops,
			SinkErrors,
			NetworkOnline,
		)
	})
}
