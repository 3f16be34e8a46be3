// Package metrics provides Prometheus metrics for the auto-reply pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	WebhookDeliveriesTotal *prometheus.CounterVec
	InboundMessagesTotal   *prometheus.CounterVec
	PipelineResultsTotal   *prometheus.CounterVec
	ReplyOutcomesTotal     *prometheus.CounterVec
	DeliveriesTotal        *prometheus.CounterVec
	GenerationDuration     *prometheus.HistogramVec
	LanesActive            prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}

	m.WebhookDeliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_webhook_deliveries_total",
			Help: "Total number of webhook POST deliveries",
		},
		[]string{"object", "status"},
	)

	m.InboundMessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_inbound_messages_total",
			Help: "Total number of normalized inbound messages",
		},
		[]string{"platform"},
	)

	m.PipelineResultsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_pipeline_results_total",
			Help: "Pipeline results by final stage and status",
		},
		[]string{"stage", "status"},
	)

	m.ReplyOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_reply_outcomes_total",
			Help: "Replies by outcome (generated or fallback)",
		},
		[]string{"outcome"},
	)

	m.DeliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_platform_deliveries_total",
			Help: "Outbound platform sends by result",
		},
		[]string{"platform", "result"},
	)

	m.GenerationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoreply_generation_duration_seconds",
			Help:    "Duration of model calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	m.LanesActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoreply_dispatcher_lanes_active",
			Help: "Number of conversation lanes currently draining",
		},
	)

	return m
}

func (m *Metrics) RecordWebhookDelivery(object, status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(object, status).Inc()
}

func (m *Metrics) RecordInbound(platform string) {
	if m == nil {
		return
	}
	m.InboundMessagesTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) RecordPipelineResult(stage, status string) {
	if m == nil {
		return
	}
	m.PipelineResultsTotal.WithLabelValues(stage, status).Inc()
}

func (m *Metrics) RecordReplyOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReplyOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDelivery counts an outbound send. result is sent, failed or skipped.
func (m *Metrics) RecordDelivery(platform, result string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(platform, result).Inc()
}

func (m *Metrics) ObserveGeneration(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) LaneStarted() {
	if m == nil {
		return
	}
	m.LanesActive.Inc()
}

func (m *Metrics) LaneStopped() {
	if m == nil {
		return
	}
	m.LanesActive.Dec()
}
