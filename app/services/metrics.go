package services

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trakpilot_push_connections",
			Help: "Number of live push stream connections",
		},
	)

	pushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trakpilot_push_events_total",
			Help: "Push events by outcome (delivered, dropped)",
		},
		[]string{"outcome"},
	)

	engagementHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trakpilot_engagement_hits_total",
			Help: "Beacon and redirect hits partitioned by kind and traffic class",
		},
		[]string{"kind", "proxy"},
	)

	sendOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trakpilot_send_total",
			Help: "Send pipeline outcomes by code",
		},
		[]string{"code"},
	)

	sweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trakpilot_sweep_items_total",
			Help: "Sweep items by sweep and outcome",
		},
		[]string{"sweep", "outcome"},
	)

	backgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trakpilot_background_tasks_total",
			Help: "Background tasks by disposition (queued, inline, dropped)",
		},
		[]string{"disposition"},
	)
)

// ObserveHit counts one open or click
func ObserveHit(kind string, proxy bool) {
	engagementHits.WithLabelValues(kind, strconv.FormatBool(proxy)).Inc()
}

// ObserveSend counts one send outcome; code is "OK" or a public error code
func ObserveSend(code string) {
	sendOutcomes.WithLabelValues(code).Inc()
}

// ObserveSweep adds n items to a sweep outcome
func ObserveSweep(sweep, outcome string, n int) {
	if n <= 0 {
		return
	}
	sweepItems.WithLabelValues(sweep, outcome).Add(float64(n))
}
