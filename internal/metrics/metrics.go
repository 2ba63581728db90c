package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promanchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promanchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Gateway metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "promanchat_active_connections",
			Help: "Websocket sessions currently joined to a room",
		},
	)

	Handshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promanchat_handshakes_total",
			Help: "Websocket handshakes by outcome",
		},
		[]string{"result"}, // "joined", "unauthenticated", "unauthorized", "unavailable", "upgrade_failed", "shutting_down"
	)

	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promanchat_frames_received_total",
			Help: "Inbound frames by decoded type",
		},
		[]string{"type"},
	)

	// Chat metrics
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promanchat_messages_persisted_total",
			Help: "Chat messages committed to the store",
		},
	)

	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promanchat_persistence_failures_total",
			Help: "Chat messages that failed to persist",
		},
	)

	RejectedFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promanchat_rejected_frames_total",
			Help: "Inbound frames answered with an error frame",
		},
		[]string{"reason"},
	)

	// Fan-out metrics
	FanoutDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promanchat_fanout_deliveries_total",
			Help: "Frames enqueued to a session send buffer",
		},
	)

	FanoutDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promanchat_fanout_dropped_total",
			Help: "Frames dropped because a session buffer was full or closed",
		},
	)

	SlowConsumerDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promanchat_slow_consumer_disconnects_total",
			Help: "Sessions closed after too many consecutive drops",
		},
	)

	RelayPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "promanchat_relay_publish_failures_total",
			Help: "Relay publishes that fell back to local delivery",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promanchat_store_latency_seconds",
			Help:    "Chat store call latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)
