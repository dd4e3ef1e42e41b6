// Package metrics exports Prometheus metrics for the detection pipeline and
// the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts API requests by endpoint, method and status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nilm_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration observes API request latency
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nilm_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// SamplesIngested counts power samples accepted by the pipeline
	SamplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nilm_samples_ingested_total",
			Help: "Total number of power samples ingested",
		},
	)

	// EventsDetected counts detected power events
	EventsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nilm_events_detected_total",
			Help: "Total number of power events detected",
		},
	)

	// EventsIdentified counts events attributed to an appliance
	EventsIdentified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nilm_events_identified_total",
			Help: "Total number of events attributed to an appliance",
		},
	)

	// EventsUnidentified counts events no profile could explain
	EventsUnidentified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nilm_events_unidentified_total",
			Help: "Total number of events left unidentified",
		},
	)

	// LabelsApplied counts user-supplied labels
	LabelsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nilm_labels_applied_total",
			Help: "Total number of user labels applied",
		},
	)

	// CurrentPower mirrors the most recent power reading
	CurrentPower = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nilm_current_power_watts",
			Help: "Most recent power reading in watts",
		},
	)

	// ActiveAppliances tracks how many appliances are believed on
	ActiveAppliances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nilm_active_appliances",
			Help: "Number of appliances currently believed on",
		},
	)

	// RateLimited counts requests rejected by the rate limiter
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nilm_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// WebsocketClients tracks connected broadcast subscribers
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nilm_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)
)

// ObserveIngest updates the pipeline metrics for one processed sample.
func ObserveIngest(power float64, activeAppliances int, eventDetected, identified bool) {
	SamplesIngested.Inc()
	CurrentPower.Set(power)
	ActiveAppliances.Set(float64(activeAppliances))
	if !eventDetected {
		return
	}
	EventsDetected.Inc()
	if identified {
		EventsIdentified.Inc()
	} else {
		EventsUnidentified.Inc()
	}
}
