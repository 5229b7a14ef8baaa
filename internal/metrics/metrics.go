package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReportsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemprice",
		Name:      "reports_ingested_total",
		Help:      "Submitted price reports by result (queued, duplicate, malformed)",
	}, []string{"result"})

	GroupOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemprice",
		Name:      "group_outcomes_total",
		Help:      "Evaluated report groups by outcome",
	}, []string{"outcome"})

	BatchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "itemprice",
		Name:      "batch_runs_total",
		Help:      "Batch runs by status",
	}, []string{"status"})

	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "itemprice",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one batch run",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	QueueGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "itemprice",
		Name:      "queue_groups",
		Help:      "Report names currently eligible for processing",
	})
)

func init() {
	prometheus.MustRegister(ReportsIngested, GroupOutcomes, BatchRuns, BatchDuration, QueueGroups)
}
