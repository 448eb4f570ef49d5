package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionStatus is 1 for the current status label and 0 for the rest.
	ConnectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pulsewire_connection_status",
		Help: "Current connection status (1 for the active status label)",
	}, []string{"status"})

	// Reconnects counts scheduled reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsewire_reconnects_total",
		Help: "Total number of scheduled reconnect attempts",
	})

	// ReconnectDelay tracks the backoff delay chosen for each reconnect.
	ReconnectDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulsewire_reconnect_delay_seconds",
		Help:    "Backoff delay before each reconnect attempt",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 250ms to ~64s
	})

	// FramesSent tracks frames written to the socket by type.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewire_frames_sent_total",
		Help: "Frames written to the socket",
	}, []string{"type"})

	// FramesReceived tracks parsed inbound frames by type.
	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewire_frames_received_total",
		Help: "Inbound frames successfully parsed",
	}, []string{"type"})

	// FramesDropped tracks inbound payloads that were discarded.
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewire_frames_dropped_total",
		Help: "Inbound payloads dropped without dispatch",
	}, []string{"reason"}) // malformed, unknown_type

	// OutboundQueueDepth tracks frames waiting for the connection to open.
	OutboundQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsewire_outbound_queue_depth",
		Help: "Frames queued while the connection is not open",
	})

	// Dispatches counts events delivered to at least the registry.
	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewire_dispatch_total",
		Help: "Events dispatched through the registry",
	}, []string{"event"})

	// StaleEvents counts events for topics no longer held.
	StaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsewire_stale_events_total",
		Help: "Events received for topics with no local interest",
	})

	// ActiveTopics tracks registry entries with a positive ref count.
	ActiveTopics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsewire_active_topics",
		Help: "Topics currently held by at least one listener",
	})

	// SubscribeRejections tracks topics the server refused.
	SubscribeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewire_subscribe_rejections_total",
		Help: "Topics rejected by the server in subscribe_ok",
	}, []string{"reason"})

	// CursorStoreLatency tracks resume cursor store round trips.
	CursorStoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulsewire_cursor_store_latency_seconds",
		Help:    "Latency of resume cursor store operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op"})

	// Logouts counts forced logouts triggered by auth errors.
	Logouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsewire_logouts_total",
		Help: "Forced logouts triggered by server authentication errors",
	})

	// ListenerPanics counts recovered panics in event listeners.
	ListenerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsewire_listener_panics_total",
		Help: "Panics recovered while invoking event listeners",
	}, []string{"event"})
)

// SetConnectionStatus flips the status gauge to the given label.
func SetConnectionStatus(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		ConnectionStatus.WithLabelValues(s).Set(v)
	}
}
