package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// feedFetchTotal tracks adapter outcomes by source and status
	feedFetchTotal *prometheus.CounterVec

	// iocsInsertedTotal tracks new records per source
	iocsInsertedTotal *prometheus.CounterVec

	// iocsDuplicatesTotal tracks records that were already known per source
	iocsDuplicatesTotal *prometheus.CounterVec

	// ingestionRunDuration tracks wall time of full ingestion runs
	ingestionRunDuration prometheus.Histogram

	// lastRunTimestamp is the unix time the last run finished
	lastRunTimestamp prometheus.Gauge

	// reputationLookupsTotal tracks reputation lookups by result
	reputationLookupsTotal *prometheus.CounterVec
)

// InitMetrics registers all Prometheus metrics.
// This should be called once at application startup
func InitMetrics() {
	metricsOnce.Do(func() {
		feedFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctiwatch_feed_fetch_total",
				Help: "Total number of feed fetches by source and status",
			},
			[]string{"source", "status"},
		)

		iocsInsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctiwatch_iocs_inserted_total",
				Help: "Total number of new IOC records stored, by source",
			},
			[]string{"source"},
		)

		iocsDuplicatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctiwatch_iocs_duplicates_total",
				Help: "Total number of fetched IOCs that were already stored, by source",
			},
			[]string{"source"},
		)

		ingestionRunDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ctiwatch_ingestion_run_duration_seconds",
				Help:    "Duration of full ingestion runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		lastRunTimestamp = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctiwatch_ingestion_last_run_timestamp_seconds",
				Help: "Unix time the last ingestion run finished",
			},
		)

		reputationLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctiwatch_reputation_lookups_total",
				Help: "Total number of reputation lookups by result",
			},
			[]string{"result"},
		)
	})
}

// RecordAdapterResult records the outcome of one adapter in a run
func RecordAdapterResult(result domain.AdapterResult) {
	if feedFetchTotal != nil {
		feedFetchTotal.WithLabelValues(result.Source, string(result.Status)).Inc()
	}
	if iocsInsertedTotal != nil && result.Inserted > 0 {
		iocsInsertedTotal.WithLabelValues(result.Source).Add(float64(result.Inserted))
	}
	if iocsDuplicatesTotal != nil && result.Duplicates > 0 {
		iocsDuplicatesTotal.WithLabelValues(result.Source).Add(float64(result.Duplicates))
	}
}

// RecordRunDuration records the duration of a full ingestion run
func RecordRunDuration(duration time.Duration) {
	if ingestionRunDuration != nil {
		ingestionRunDuration.Observe(duration.Seconds())
	}
}

// RecordReputationLookup records a lookup outcome
// result: "hit", "cache_hit", "not_found", "error", "skipped"
func RecordReputationLookup(result string) {
	if reputationLookupsTotal != nil {
		reputationLookupsTotal.WithLabelValues(result).Inc()
	}
}

// Observer feeds orchestrator results into the Prometheus metrics.
type Observer struct{}

var _ ports.RunObserver = Observer{}

func NewObserver() Observer {
	InitMetrics()
	return Observer{}
}

func (Observer) ObserveAdapter(result domain.AdapterResult) {
	RecordAdapterResult(result)
}

func (Observer) ObserveRun(report domain.RunReport) {
	RecordRunDuration(report.Duration())
	if lastRunTimestamp != nil {
		lastRunTimestamp.Set(float64(report.FinishedAt.Unix()))
	}
}
