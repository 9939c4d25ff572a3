package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tailforward"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	webhooks  *prometheus.CounterVec
	forwarded prometheus.Counter
	failed    prometheus.Counter
	duration  *prometheus.HistogramVec
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "webhook", Name: "requests_total", Help: "Inbound webhook requests by final stage and error kind."},
			[]string{"stage", "kind"},
		),
		forwarded: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "telegram", Name: "messages_sent_total", Help: "Messages delivered to Telegram."},
		),
		failed: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "telegram", Name: "send_failures_total", Help: "Batches aborted by a failed Telegram call."},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Subsystem: "webhook", Name: "duration_seconds", Help: "Time spent handling a webhook.", Buckets: prometheus.DefBuckets},
			[]string{"stage"},
		),
	}

	m.registry.MustRegister(
		m.webhooks,
		m.forwarded,
		m.failed,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveWebhook records one handled request. kind is empty on success.
func (m *Metrics) ObserveWebhook(stage, kind string, forwarded int, failed bool, elapsed time.Duration) {
	if kind == "" {
		kind = "none"
	}
	m.webhooks.WithLabelValues(stage, kind).Inc()
	m.duration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if forwarded > 0 {
		m.forwarded.Add(float64(forwarded))
	}
	if failed {
		m.failed.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
