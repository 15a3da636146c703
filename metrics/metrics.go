package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks fetch, alias, clustering and property-build activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	PagesFetched       *prometheus.CounterVec
	RowsFetched        *prometheus.CounterVec
	FetchRetries       *prometheus.CounterVec
	FetchFailures      *prometheus.CounterVec
	DuplicateRows      *prometheus.CounterVec
	FetchDuration      *prometheus.HistogramVec
	AliasLookups       *prometheus.CounterVec
	AliasLoads         *prometheus.CounterVec
	IdentitiesResolved *prometheus.CounterVec
	ClustersCreated    prometheus.Counter
	FuzzyComparisons   prometheus.Counter
	PropertiesBuilt    prometheus.Counter
	OwnerReviewFlags   prometheus.Counter
}

// New registers all metrics with reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_fetch_pages_total",
			Help: "Pages fetched from the record source",
		}, []string{"table"}),
		RowsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_fetch_rows_total",
			Help: "Rows fetched from the record source",
		}, []string{"table"}),
		FetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_fetch_retries_total",
			Help: "Page fetch retries after a transient failure",
		}, []string{"table"}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_fetch_failures_total",
			Help: "Fetches that failed after exhausting retries",
		}, []string{"table"}),
		DuplicateRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_fetch_duplicate_rows_total",
			Help: "Rows dropped because their id was already seen on an earlier page",
		}, []string{"table"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_fetch_duration_seconds",
			Help:    "Duration of complete paged fetches",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"table"}),
		AliasLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_alias_lookups_total",
			Help: "Alias resolutions by outcome (exact, partial, miss, error)",
		}, []string{"type", "result"}),
		AliasLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_alias_cache_loads_total",
			Help: "Alias cache loads from the store",
		}, []string{"type"}),
		IdentitiesResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_identities_resolved_total",
			Help: "Identities assigned to a cluster, by match rule (phone, name, new)",
		}, []string{"rule"}),
		ClustersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "market_clusters_created_total",
			Help: "Owner clusters allocated",
		}),
		FuzzyComparisons: f.NewCounter(prometheus.CounterOpts{
			Name: "market_fuzzy_comparisons_total",
			Help: "Name similarity evaluations performed",
		}),
		PropertiesBuilt: f.NewCounter(prometheus.CounterOpts{
			Name: "market_properties_built_total",
			Help: "Property states emitted",
		}),
		OwnerReviewFlags: f.NewCounter(prometheus.CounterOpts{
			Name: "market_properties_needing_review_total",
			Help: "Properties whose latest buyer is institutional",
		}),
	}
}

func (m *Metrics) ObservePage(table string, rows int) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(table).Inc()
	m.RowsFetched.WithLabelValues(table).Add(float64(rows))
}

func (m *Metrics) IncFetchRetry(table string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(table).Inc()
}

func (m *Metrics) IncFetchFailure(table string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(table).Inc()
}

func (m *Metrics) IncDuplicateRow(table string) {
	if m == nil {
		return
	}
	m.DuplicateRows.WithLabelValues(table).Inc()
}

// ObserveFetch records the duration of a complete fetch.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveFetch(table string, start time.Time) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncAliasLookup(aliasType, result string) {
	if m == nil {
		return
	}
	m.AliasLookups.WithLabelValues(aliasType, result).Inc()
}

func (m *Metrics) IncAliasLoad(aliasType string) {
	if m == nil {
		return
	}
	m.AliasLoads.WithLabelValues(aliasType).Inc()
}

func (m *Metrics) IncIdentity(rule string) {
	if m == nil {
		return
	}
	m.IdentitiesResolved.WithLabelValues(rule).Inc()
	if rule == "new" {
		m.ClustersCreated.Inc()
	}
}

func (m *Metrics) AddFuzzyComparisons(n int) {
	if m == nil || n == 0 {
		return
	}
	m.FuzzyComparisons.Add(float64(n))
}

func (m *Metrics) ObserveProperty(needsReview bool) {
	if m == nil {
		return
	}
	m.PropertiesBuilt.Inc()
	if needsReview {
		m.OwnerReviewFlags.Inc()
	}
}
