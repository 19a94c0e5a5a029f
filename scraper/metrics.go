package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for a harvest process.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	RenderDuration   prometheus.Histogram
	ItemsExtracted   prometheus.Counter
	RetriesTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	PolicyDenials    *prometheus.CounterVec
	IdentityFailures prometheus.Counter
	CategoriesTotal  *prometheus.CounterVec
	RecordsPersisted *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Page requests by phase (cache_hit, started, completed).",
		},
		[]string{"phase"},
	)
	renderDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_render_duration_seconds",
			Help:    "Latency of render attempts.",
			Buckets: prometheus.DefBuckets,
		},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_items_extracted_total",
			Help: "Aligned records extracted from fetched pages.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Retry attempts scheduled after a failed render.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_errors_total",
			Help: "Render errors by type.",
		},
		[]string{"error_type"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_lookups_total",
			Help: "Response cache lookups by result.",
		},
		[]string{"result"},
	)
	denials := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_policy_denials_total",
			Help: "Requests refused by robots.txt or the hourly quota.",
		},
		[]string{"reason"},
	)
	identityFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_identity_failures_total",
			Help: "Identities marked dead after a failed attempt.",
		},
	)
	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_categories_total",
			Help: "Category jobs finished by outcome.",
		},
		[]string{"outcome"},
	)
	persisted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_persisted_total",
			Help: "Committed records by kind (new, updated, price).",
		},
		[]string{"kind"},
	)

	registry.MustRegister(requests, renderDuration, items, retries, errorsTotal,
		cacheLookups, denials, identityFailures, categories, persisted)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		RenderDuration:   renderDuration,
		ItemsExtracted:   items,
		RetriesTotal:     retries,
		ErrorsTotal:      errorsTotal,
		CacheLookups:     cacheLookups,
		PolicyDenials:    denials,
		IdentityFailures: identityFailures,
		CategoriesTotal:  categories,
		RecordsPersisted: persisted,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records a render duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.Observe(d.Seconds())
}

// AddItems adds n extracted records.
func (m *Metrics) AddItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsExtracted.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCache records a cache lookup result (hit, miss, error).
func (m *Metrics) IncCache(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// IncPolicyDenial records a refused request.
func (m *Metrics) IncPolicyDenial(reason string) {
	if m == nil {
		return
	}
	m.PolicyDenials.WithLabelValues(reason).Inc()
}

// IncIdentityFailure records an identity marked dead.
func (m *Metrics) IncIdentityFailure() {
	if m == nil {
		return
	}
	m.IdentityFailures.Inc()
}

// IncCategory records a finished category job.
func (m *Metrics) IncCategory(outcome string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(outcome).Inc()
}

// AddPersisted adds n committed records of kind.
func (m *Metrics) AddPersisted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RecordsPersisted.WithLabelValues(kind).Add(float64(n))
}
