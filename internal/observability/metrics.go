package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesPosted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_marketplace", Name: "rides_posted_total", Help: "Total rides posted"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_marketplace", Name: "rides_accepted_total", Help: "Total rides accepted"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_marketplace", Name: "rides_completed_total", Help: "Total rides completed"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_marketplace", Name: "accept_conflicts_total", Help: "Accept calls that lost the acceptance race"})
	GateDenials     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_marketplace", Name: "membership_gate_denials_total", Help: "Lifecycle actions denied by the membership gate"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_marketplace", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_marketplace",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
