package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_lookups_total",
			Help: "Total number of match lookups",
		},
		[]string{"role", "source"},
	)

	matchScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matching_scores",
			Help:    "Distribution of computed match scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	candidatesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_candidates_scored_total",
			Help: "Total number of candidates run through the scorer",
		},
	)

	candidatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_candidates_skipped_total",
			Help: "Candidates skipped due to missing related records",
		},
	)

	cacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_cache_invalidations_total",
			Help: "Total number of cache keys invalidated",
		},
	)
)

// RecordMatchLookup counts a lookup; source is "cache" or "computed".
func RecordMatchLookup(role, source string) {
	matchLookupsTotal.WithLabelValues(role, source).Inc()
}

// RecordMatchScore observes one computed total score.
func RecordMatchScore(score float64) {
	candidatesScored.Inc()
	matchScores.Observe(score)
}

// RecordCandidateSkipped counts a candidate dropped for partial data.
func RecordCandidateSkipped() {
	candidatesSkipped.Inc()
}

// RecordCacheInvalidation counts deleted cache keys.
func RecordCacheInvalidation(count int64) {
	cacheInvalidations.Add(float64(count))
}
