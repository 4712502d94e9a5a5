package casework

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the casework subsystem.
type Metrics struct {
	GroupingsTotal     *prometheus.CounterVec
	GroupingDuration   *prometheus.HistogramVec
	GroupingRetries    prometheus.Counter
	GroupingCandidates prometheus.Histogram
	GroupSize          prometheus.Histogram
	CasesCreated       *prometheus.CounterVec
	IntakeTotal        *prometheus.CounterVec
	IntakeDuration     prometheus.Histogram
	SubmitsTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns casework metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GroupingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_groupings_total",
			Help: "Total grouping evaluations by outcome.",
		}, []string{"outcome"}),
		GroupingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_grouping_duration_seconds",
			Help:    "Duration of grouping evaluations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}, []string{"outcome"}),
		GroupingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_grouping_conflict_retries_total",
			Help: "Grouping transactions retried after a serialization conflict.",
		}),
		GroupingCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_grouping_nearby_candidates",
			Help:    "Ungrouped open cases found within the proximity radius per evaluation.",
			Buckets: prometheus.LinearBuckets(0, 1, 16), // 0 .. 15
		}),
		GroupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_group_size_cases",
			Help:    "Member count of newly formed proximity groups.",
			Buckets: prometheus.LinearBuckets(3, 1, 13), // 3 .. 15
		}),
		CasesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_cases_created_total",
			Help: "Total cases created by urgency.",
		}, []string{"urgency"}),
		IntakeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_intake_total",
			Help: "Total intake extractions by result.",
		}, []string{"result"}),
		IntakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beacon_intake_duration_seconds",
			Help:    "Duration of intake extractions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s .. ~32s
		}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_submits_total",
			Help: "Total case submissions by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.GroupingsTotal,
		m.GroupingDuration,
		m.GroupingRetries,
		m.GroupingCandidates,
		m.GroupSize,
		m.CasesCreated,
		m.IntakeTotal,
		m.IntakeDuration,
		m.SubmitsTotal,
	)

	return m
}
