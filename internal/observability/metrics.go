package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "assignments_total", Help: "Assignments created, by mode (auto/manual/reassign)"},
		[]string{"mode"},
	)
	AssignmentConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "assignment_conflicts_total", Help: "Assignment attempts lost to a concurrent winner"})
	NoEligibleDriver    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "no_eligible_driver_total", Help: "Auto-assign cycles that found no eligible driver"})
	RankLatency         = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "fleet_dispatch", Name: "rank_latency_seconds", Help: "Candidate ranking latency seconds"})
	EligibleDrivers     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_dispatch", Name: "eligible_drivers_last", Help: "Eligible candidates found by the most recent dispatch cycle"})

	IncidentsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "incidents_reported_total", Help: "Incidents reported, by severity"},
		[]string{"severity"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleet_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
