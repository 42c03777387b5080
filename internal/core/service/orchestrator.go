package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// Orchestrator runs every adapter once and folds the outcomes into a
// RunReport. No adapter failure escapes RunAll.
type Orchestrator struct {
	upserter    *Upserter
	log         *zap.Logger
	observer    ports.RunObserver
	concurrency int
	now         func() time.Time
}

type OrchestratorOption func(*Orchestrator)

// WithConcurrency lets up to n adapters run at once. The default runs them
// one after another.
func WithConcurrency(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithObserver(obs ports.RunObserver) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(upserter *Upserter, log *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{
		upserter:    upserter,
		log:         log,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunAll fetches from each adapter and upserts what it returns. Results keep
// the order of adapters regardless of concurrency.
func (o *Orchestrator) RunAll(ctx context.Context, adapters []ports.FeedAdapter) domain.RunReport {
	report := domain.RunReport{
		StartedAt: o.now().UTC(),
		Results:   make([]domain.AdapterResult, len(adapters)),
	}
	o.log.Info("ingestion run started", zap.Int("adapters", len(adapters)))

	if o.concurrency <= 1 {
		for i, adapter := range adapters {
			report.Results[i] = o.runOne(ctx, adapter)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.concurrency)
		for i, adapter := range adapters {
			g.Go(func() error {
				report.Results[i] = o.runOne(ctx, adapter)
				return nil
			})
		}
		_ = g.Wait()
	}

	report.FinishedAt = o.now().UTC()
	if o.observer != nil {
		o.observer.ObserveRun(report)
	}

	o.log.Info("ingestion run finished",
		zap.Int("new", report.TotalNew()),
		zap.Int("duplicates", report.TotalDuplicates()),
		zap.Int("failed_sources", len(report.FailedSources())),
		zap.Duration("duration", report.Duration()))
	return report
}

func (o *Orchestrator) runOne(ctx context.Context, adapter ports.FeedAdapter) (res domain.AdapterResult) {
	start := o.now()
	res.Source = adapter.Name()
	log := o.log.With(zap.String("source", res.Source))

	defer func() {
		if r := recover(); r != nil {
			res.Status = domain.StatusFailed
			res.Error = fmt.Sprintf("adapter panicked: %v", r)
			log.Error("adapter panicked", zap.Any("panic", r))
		}
		res.Duration = o.now().Sub(start)
		if o.observer != nil {
			o.observer.ObserveAdapter(res)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Status = domain.StatusFailed
		res.Error = err.Error()
		return res
	}

	iocs, err := adapter.FetchIOCS(ctx)
	if errors.Is(err, domain.ErrNotConfigured) {
		res.Status = domain.StatusSkipped
		log.Info("adapter not configured, skipping")
		return res
	}
	if err != nil {
		res.Status = domain.StatusFailed
		res.Error = err.Error()
		log.Error("fetch failed", zap.Error(err))
		return res
	}
	res.Fetched = len(iocs)

	upserted, err := o.upserter.UpsertMany(ctx, iocs)
	res.Inserted = upserted.Inserted
	res.Duplicates = upserted.Duplicates
	res.Failed = upserted.Failed

	switch {
	case err != nil:
		res.Status = domain.StatusFailed
		res.Error = err.Error()
	case upserted.Failed > 0 && upserted.Inserted+upserted.Duplicates == 0:
		// nothing from this feed reached the store
		res.Status = domain.StatusFailed
		res.Error = upserted.FirstError.Error()
	case upserted.Failed > 0:
		res.Status = domain.StatusPartial
		res.Error = upserted.FirstError.Error()
	default:
		res.Status = domain.StatusOK
	}

	log.Info("adapter finished",
		zap.String("status", string(res.Status)),
		zap.Int("fetched", res.Fetched),
		zap.Int("new", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed))
	return res
}
