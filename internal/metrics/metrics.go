// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set holds the gateway's metric collectors.
type Set struct {
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	poolHealthy  prometheus.Gauge
	poolDegraded prometheus.Gauge
	poolDead     prometheus.Gauge
	poolInFlight prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "toolgate_tool_calls_total",
			Help: "Tool invocations by tool name and outcome (completed, rejected, failed)",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "toolgate_tool_duration_seconds",
			Help:    "Tool invocation duration by tool name",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		poolHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolgate_pool_healthy_connections",
			Help: "Healthy connections at the last pool health check",
		}),
		poolDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolgate_pool_degraded_connections",
			Help: "Degraded connections at the last pool health check",
		}),
		poolDead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolgate_pool_dead_connections",
			Help: "Dead connections at the last pool health check",
		}),
		poolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "toolgate_pool_in_flight_borrows",
			Help: "Connections currently borrowed by in-flight requests",
		}),
	}
	reg.MustRegister(s.toolCalls, s.toolDuration, s.poolHealthy, s.poolDegraded, s.poolDead, s.poolInFlight)
	return s
}

// ObserveToolCall records one tool invocation.
func (s *Set) ObserveToolCall(tool, outcome string, d time.Duration) {
	if s == nil {
		return
	}
	s.toolCalls.WithLabelValues(tool, outcome).Inc()
	s.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// SetPoolHealth records the outcome of a pool health check.
func (s *Set) SetPoolHealth(healthy, degraded, dead int) {
	if s == nil {
		return
	}
	s.poolHealthy.Set(float64(healthy))
	s.poolDegraded.Set(float64(degraded))
	s.poolDead.Set(float64(dead))
}

// SetInFlight records the number of borrowed connections.
func (s *Set) SetInFlight(n int) {
	if s == nil {
		return
	}
	s.poolInFlight.Set(float64(n))
}
