// Package telemetry implements the gateway's metrics sink: counters,
// gauges, and histograms backed by github.com/prometheus/client_golang,
// mirroring the series names and label sets of
// original_source/src/modelop/telemetry.py's prometheus_client wiring.
package telemetry

import (
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome is the admission result recorded for a request.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Reason is why a request was accepted or rejected.
type Reason string

const (
	ReasonAccepted            Reason = "accepted"
	ReasonInvalid             Reason = "invalid"
	ReasonRateLimit           Reason = "rate_limit"
	ReasonKVPressure          Reason = "kv_pressure"
	ReasonQueueFull           Reason = "queue_full"
	ReasonTimeout             Reason = "timeout"
	ReasonRequestIDCollision  Reason = "request_id_collision"
)

// Sink is the abstract telemetry interface the gateway core depends on. A
// no-op implementation (Noop) is acceptable when no metrics backend is
// configured, matching spec.md §4.F.
type Sink interface {
	RecordRequestOutcome(tenantID string, outcome Outcome, reason Reason)
	ObserveTTFT(tenantID string, seconds float64)
	ObserveTPOT(tenantID string, seconds float64)
	ObserveQueueWait(tenantID string, seconds float64)
	AddGeneratedTokens(tenantID string, count int)
	RecordPromptTruncation(tenantID string)
	RecordRequestIDCollision(tenantID string)
	TickScheduler(queueDepth, activeSequences int)
	SetKVUtilization(ratio float64)
}

// Telemetry is the prometheus-backed Sink implementation.
type Telemetry struct {
	registry *prometheus.Registry

	requestsTotal           *prometheus.CounterVec
	tokensGeneratedTotal    *prometheus.CounterVec
	promptTruncationsTotal  *prometheus.CounterVec
	requestIDCollisionsTot  *prometheus.CounterVec
	schedulerTicksTotal     prometheus.Counter

	kvUtilization   prometheus.Gauge
	queueDepth      prometheus.Gauge
	activeSequences prometheus.Gauge

	ttft      *prometheus.HistogramVec
	tpot      *prometheus.HistogramVec
	queueWait *prometheus.HistogramVec
}

// New builds a Telemetry sink registered against a fresh prometheus
// registry (avoiding collector-conflict panics across repeated calls, the
// same concern Sumatoshi-tech-codefang's PrometheusHandler documents).
func New() *Telemetry {
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Ingress request outcomes.",
		}, []string{"tenant_id", "result", "reason"}),
		tokensGeneratedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_generated_total",
			Help: "Generated output tokens by tenant.",
		}, []string{"tenant_id"}),
		promptTruncationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prompt_truncations_total",
			Help: "Prompt truncation count by tenant.",
		}, []string{"tenant_id"}),
		requestIDCollisionsTot: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_id_collisions_total",
			Help: "Concurrent request-id collision rejections.",
		}, []string{"tenant_id"}),
		schedulerTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Continuous batching ticks.",
		}),
		kvUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kv_cache_utilization_ratio",
			Help: "Active KV cache utilization (0..1).",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Inference queue depth.",
		}),
		activeSequences: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_sequences",
			Help: "Active decode sequences.",
		}),
		ttft: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "request_ttft_seconds",
			Help: "Time to first token.",
		}, []string{"tenant_id"}),
		tpot: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "request_tpot_seconds",
			Help: "Time per output token after first token.",
		}, []string{"tenant_id"}),
		queueWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "queue_wait_seconds",
			Help: "Time from enqueue to first decode step.",
		}, []string{"tenant_id"}),
	}

	reg.MustRegister(
		t.requestsTotal,
		t.tokensGeneratedTotal,
		t.promptTruncationsTotal,
		t.requestIDCollisionsTot,
		t.schedulerTicksTotal,
		t.kvUtilization,
		t.queueDepth,
		t.activeSequences,
		t.ttft,
		t.tpot,
		t.queueWait,
	)

	return t
}

func (t *Telemetry) RecordRequestOutcome(tenantID string, outcome Outcome, reason Reason) {
	t.requestsTotal.WithLabelValues(tenantID, string(outcome), string(reason)).Inc()
}

func (t *Telemetry) ObserveTTFT(tenantID string, seconds float64) {
	t.ttft.WithLabelValues(tenantID).Observe(clampNonNegative(seconds))
}

func (t *Telemetry) ObserveTPOT(tenantID string, seconds float64) {
	t.tpot.WithLabelValues(tenantID).Observe(clampNonNegative(seconds))
}

func (t *Telemetry) ObserveQueueWait(tenantID string, seconds float64) {
	t.queueWait.WithLabelValues(tenantID).Observe(clampNonNegative(seconds))
}

func (t *Telemetry) AddGeneratedTokens(tenantID string, count int) {
	if count < 0 {
		count = 0
	}
	t.tokensGeneratedTotal.WithLabelValues(tenantID).Add(float64(count))
}

func (t *Telemetry) RecordPromptTruncation(tenantID string) {
	t.promptTruncationsTotal.WithLabelValues(tenantID).Inc()
}

func (t *Telemetry) RecordRequestIDCollision(tenantID string) {
	t.requestIDCollisionsTot.WithLabelValues(tenantID).Inc()
}

func (t *Telemetry) TickScheduler(queueDepth, activeSequences int) {
	t.schedulerTicksTotal.Inc()
	if queueDepth < 0 {
		queueDepth = 0
	}
	if activeSequences < 0 {
		activeSequences = 0
	}
	t.queueDepth.Set(float64(queueDepth))
	t.activeSequences.Set(float64(activeSequences))
}

func (t *Telemetry) SetKVUtilization(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	t.kvUtilization.Set(ratio)
}

// Scrape returns the text exposition of the current metric state and its
// content type, for an external HTTP layer to serve at /metrics.
func (t *Telemetry) Scrape() (body []byte, contentType string, err error) {
	handler := promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	return recorder.Body.Bytes(), recorder.Header().Get("Content-Type"), nil
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
