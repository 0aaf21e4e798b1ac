package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bdobrica/memlake/internal/memlake/memory"
)

// Metrics groups all Prometheus instruments used by the service. It
// implements memory.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	TurnsRecorded     *prometheus.CounterVec
	Flushes           *prometheus.CounterVec
	SummaryAttempts   *prometheus.CounterVec
	FlushDuration     prometheus.Histogram
	PendingBatchSize  prometheus.Gauge
	TopicsTotal       prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
}

var _ memory.Metrics = (*Metrics)(nil)

// NewMetrics registers every instrument on a fresh registry, so several
// instances can coexist in one process (tests, multiple engines).
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TurnsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_recorded_total",
			Help:      "Recorded turns by result (appended, duplicate, ephemeral).",
		}, []string{"result"}),
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Batch flushes by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		SummaryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizer_attempts_total",
			Help:      "Summarizer calls by outcome.",
		}, []string{"outcome"}),
		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent summarizing and committing a batch.",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 180},
		}),
		PendingBatchSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_batch_size",
			Help:      "Turns waiting for summarization.",
		}),
		TopicsTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "topics_total",
			Help:      "Entries in the topic index.",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (m *Metrics) TurnRecorded(result string) {
	m.TurnsRecorded.WithLabelValues(result).Inc()
}

func (m *Metrics) FlushFinished(trigger memory.Trigger, outcome string, d time.Duration) {
	m.Flushes.WithLabelValues(string(trigger), outcome).Inc()
	m.FlushDuration.Observe(d.Seconds())
}

func (m *Metrics) SummaryAttempt(ok bool) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.SummaryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PendingBatch(n int) { m.PendingBatchSize.Set(float64(n)) }

func (m *Metrics) Topics(n int) { m.TopicsTotal.Set(float64(n)) }

// ObserveRequest counts one API request.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
