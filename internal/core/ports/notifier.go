package ports

import (
	"context"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
)

// RunNotifier is told about finished ingestion runs that had failing feeds.
type RunNotifier interface {
	NotifyRun(ctx context.Context, report domain.RunReport) error
}

// RunObserver receives per-adapter results as they complete. Metrics hang
// off this.
type RunObserver interface {
	ObserveAdapter(result domain.AdapterResult)
	ObserveRun(report domain.RunReport)
}
