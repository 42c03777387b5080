package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

func TestInitMetrics(t *testing.T) {
	// Should be idempotent (safe to call multiple times)
	InitMetrics()
	InitMetrics()
	InitMetrics()
}

func TestRecordAdapterResult(t *testing.T) {
	InitMetrics()

	before := testutil.ToFloat64(iocsInsertedTotal.WithLabelValues("MetricsTestFeed"))
	RecordAdapterResult(domain.AdapterResult{
		Source:     "MetricsTestFeed",
		Status:     domain.StatusOK,
		Fetched:    50,
		Inserted:   40,
		Duplicates: 10,
	})

	if got := testutil.ToFloat64(iocsInsertedTotal.WithLabelValues("MetricsTestFeed")) - before; got != 40 {
		t.Errorf("Expected 40 inserted, got %v", got)
	}
	if got := testutil.ToFloat64(iocsDuplicatesTotal.WithLabelValues("MetricsTestFeed")); got != 10 {
		t.Errorf("Expected 10 duplicates, got %v", got)
	}
	if got := testutil.ToFloat64(feedFetchTotal.WithLabelValues("MetricsTestFeed", "ok")); got != 1 {
		t.Errorf("Expected 1 fetch, got %v", got)
	}
}

func TestObserver(t *testing.T) {
	obs := NewObserver()
	start := time.Now()

	// Should not panic
	obs.ObserveAdapter(domain.AdapterResult{Source: "ObserverFeed", Status: domain.StatusFailed})
	obs.ObserveRun(domain.RunReport{StartedAt: start, FinishedAt: start.Add(3 * time.Second)})

	if got := testutil.ToFloat64(lastRunTimestamp); got != float64(start.Add(3*time.Second).Unix()) {
		t.Errorf("Expected last run timestamp to be set, got %v", got)
	}
}

func TestRecordReputationLookup(t *testing.T) {
	InitMetrics()

	for _, result := range []string{"hit", "cache_hit", "not_found", "error", "skipped"} {
		t.Run(result, func(t *testing.T) {
			RecordReputationLookup(result)
		})
	}
}
