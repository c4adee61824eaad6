// Package metrics exposes Prometheus instruments for agent traffic and launches.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeProtocol  = "protocol"
	OutcomeFatal     = "fatal"
)

var (
	// RequestsTotal counts single transport calls to the agent
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_agent_requests_total",
			Help: "Total number of HTTP requests sent to the device agent",
		},
		[]string{"route", "outcome"},
	)

	// RequestDuration tracks per-call latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_agent_request_duration_seconds",
			Help:    "Device agent request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RetriesTotal counts attempts beyond the first for a logical call
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_agent_retries_total",
			Help: "Total number of retried device agent requests",
		},
		[]string{"route"},
	)

	// LaunchesTotal counts agent launches by strategy
	LaunchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_agent_launches_total",
			Help: "Total number of device agent launches",
		},
		[]string{"strategy", "outcome"},
	)

	// WaitDuration tracks how long wait predicates took to become true
	WaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "device_agent_wait_duration_seconds",
			Help:    "Time spent waiting for UI conditions",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"outcome"},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
