// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal      *prometheus.CounterVec
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	SendFailuresTotal  prometheus.Counter
	PollFailuresTotal  prometheus.Counter
	HandlersInFlight   prometheus.Gauge
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_messages_total",
			Help: "Inbound messages by route (command name or text)",
		}, []string{"route"}),
		GenerationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_generations_total",
			Help: "Generation calls by outcome",
		}, []string{"outcome"}),
		GenerationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaybot_generation_duration_seconds",
			Help:    "Latency of generation calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		SendFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_send_failures_total",
			Help: "Outgoing messages the transport failed to deliver",
		}),
		PollFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_poll_failures_total",
			Help: "Failed getUpdates calls",
		}),
		HandlersInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_handlers_in_flight",
			Help: "Message handlers currently running",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMessage(route string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(route).Inc()
}

// ObserveGeneration records one generation call. outcome is "ok" or the
// failure kind.
func (m *Metrics) ObserveGeneration(outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(outcome).Inc()
	m.GenerationDuration.Observe(latency.Seconds())
}

func (m *Metrics) ObserveSendFailure() {
	if m == nil {
		return
	}
	m.SendFailuresTotal.Inc()
}

func (m *Metrics) ObservePollFailure() {
	if m == nil {
		return
	}
	m.PollFailuresTotal.Inc()
}

// HandlerStarted increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) HandlerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.HandlersInFlight.Inc()
	return m.HandlersInFlight.Dec
}
