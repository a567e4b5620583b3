// Package metrics exposes Prometheus metrics for detection, rule caching and HTTP.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const namespace = "kestrel"

// Collector owns a private registry. It satisfies the recorder interfaces
// of the detect, rules and cache packages.
type Collector struct {
	registry *prometheus.Registry

	verdicts       *prometheus.CounterVec
	detectDuration prometheus.Histogram
	scores         prometheus.Histogram
	pending        *prometheus.CounterVec
	cacheResults   *prometheus.CounterVec
	ruleErrors     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	batchSize      prometheus.Histogram
}

// NewCollector creates a collector with Go runtime and process metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts produced, by deciding source and outcome.",
		}, []string{"source", "is_fraud"}),
		detectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "Time taken to produce one verdict.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		scores: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verdict_score",
			Help:      "Distribution of verdict fraud scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		pending: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_pending_total",
			Help:      "Detections where a side had not finished by the deadline.",
		}, []string{"side"}),
		cacheResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_cache_operations_total",
			Help:      "Rule cache operations by outcome.",
		}, []string{"op", "result"}),
		ruleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Rule evaluations that failed and were treated as non-matching.",
		}, []string{"rule_id"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_batch_size",
			Help:      "Transactions per batch request.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// ObserveVerdict records one verdict.
func (c *Collector) ObserveVerdict(v *domain.Verdict, elapsed time.Duration) {
	source := string(v.Source)
	if source == "" {
		source = "none"
	}
	c.verdicts.WithLabelValues(source, strconv.FormatBool(v.IsFraud)).Inc()
	c.detectDuration.Observe(elapsed.Seconds())
	c.scores.Observe(v.Score)
}

// ObservePending records a side that missed the deadline.
func (c *Collector) ObservePending(side string) {
	c.pending.WithLabelValues(side).Inc()
}

// CacheResult records a rule cache operation.
func (c *Collector) CacheResult(op, result string) {
	c.cacheResults.WithLabelValues(op, result).Inc()
}

// RuleError records a failed rule evaluation.
func (c *Collector) RuleError(ruleID int64) {
	c.ruleErrors.WithLabelValues(strconv.FormatInt(ruleID, 10)).Inc()
}

// ObserveBatch records the size of a batch request.
func (c *Collector) ObserveBatch(size int) {
	c.batchSize.Observe(float64(size))
}

// ObserveHTTP records one HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
