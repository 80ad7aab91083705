// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradewatch"

// TicksProcessed counts ticks applied to at least one position.
var TicksProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "ticks_processed_total",
		Help:      "Price ticks applied to active positions",
	},
	[]string{"symbol"},
)

// TicksSkipped counts ticks that were dropped before evaluation.
var TicksSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "ticks_skipped_total",
		Help:      "Price ticks dropped before evaluation",
	},
	[]string{"reason"},
)

// TickLatency measures evaluation time per tick, in milliseconds.
var TickLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "tick_latency_ms",
		Help:      "Time to apply and evaluate one tick in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
)

// PositionsOpened counts positions added to the tracker.
var PositionsOpened = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "positions_opened_total",
		Help:      "Positions added to monitoring",
	},
)

// PositionsClosed counts positions leaving the active set.
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "positions_closed_total",
		Help:      "Positions closed or cancelled, by reason",
	},
	[]string{"reason"},
)

// ActivePositions is the current size of the active set.
var ActivePositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "active_positions",
		Help:      "Positions currently monitored",
	},
)

// ActiveSubscriptions is the number of live per-symbol feed subscriptions.
var ActiveSubscriptions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "active_subscriptions",
		Help:      "Symbols with a live price subscription",
	},
)

// FeedReconnects counts subscription (re)open attempts that failed.
var FeedReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "open_failures_total",
		Help:      "Failed attempts to open a price subscription",
	},
	[]string{"symbol"},
)

// AlertsRaised counts alerts appended to history.
var AlertsRaised = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "raised_total",
		Help:      "Alerts raised, by type and severity",
	},
	[]string{"type", "severity"},
)

// NotificationOutcomes counts policy decisions.
var NotificationOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "outcomes_total",
		Help:      "Notification attempts by terminal outcome",
	},
	[]string{"outcome"},
)

// GatewayErrors counts failed sends per sender.
var GatewayErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "sender_errors_total",
		Help:      "Failed notification sends, by sender",
	},
	[]string{"sender"},
)

// FlushDuration measures debounced persistence writes, in seconds.
var FlushDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "flush_duration_seconds",
		Help:      "Duration of debounced state writes",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"key"},
)

// FlushErrors counts failed persistence writes.
var FlushErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persist",
		Name:      "flush_errors_total",
		Help:      "Failed debounced state writes",
	},
	[]string{"key"},
)

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by route and status",
	},
	[]string{"route", "status"},
)

// WSClients is the number of connected event hub clients.
var WSClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected WebSocket clients",
	},
)
