package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "haul_dispatch"

var (
	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Number of online drivers"})
	BookingsOpen      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "bookings_open", Help: "Open bookings waiting for a driver"})
	TripsActive       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "trips_active", Help: "Claimed trips not yet delivered"})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_active", Help: "Open websocket connections"})

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_total", Help: "Inbound client events by name"},
		[]string{"event"},
	)
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings accepted onto the board"})
	BookingsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_expired_total", Help: "Open bookings dropped by the expiry sweep"})
	ClaimsTotal     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "claims_total", Help: "Accept attempts by outcome"},
		[]string{"result"},
	)
	TripStatusTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trip_status_total", Help: "Applied trip status transitions"},
		[]string{"status"},
	)
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "side_effect_failures_total", Help: "Failed best-effort writes by sink"},
		[]string{"sink"},
	)
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "frames_dropped_total", Help: "Outbound frames dropped because a connection queue was full"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
