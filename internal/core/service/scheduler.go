package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// Scheduler triggers an ingestion run at startup and then every interval.
// A tick that fires while a run is still going is skipped, so runs never
// overlap.
type Scheduler struct {
	orch      *Orchestrator
	adapters  []ports.FeedAdapter
	notifiers []ports.RunNotifier
	interval  time.Duration
	log       *zap.Logger

	cron *cron.Cron
	job  cron.Job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	last *domain.RunReport
}

func NewScheduler(orch *Orchestrator, adapters []ports.FeedAdapter, interval time.Duration, log *zap.Logger, notifiers ...ports.RunNotifier) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		orch:      orch,
		adapters:  adapters,
		notifiers: notifiers,
		interval:  interval,
		log:       log,
	}

	cl := cronLogger{log.Sugar()}
	s.cron = cron.New(cron.WithLogger(cl))
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.tick))
	return s
}

// Start schedules the periodic job and kicks off the first run in the
// background. The context bounds every run started by the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Schedule(cron.Every(s.interval), s.job)
	s.cron.Start()

	s.log.Info("scheduler started", zap.Duration("interval", s.interval), zap.Int("adapters", len(s.adapters)))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()
}

// Stop cancels any run in flight and waits for it to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastReport returns the report of the most recent finished run.
func (s *Scheduler) LastReport() (domain.RunReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.RunReport{}, false
	}
	return *s.last, true
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	report := s.orch.RunAll(ctx, s.adapters)

	s.mu.Lock()
	s.last = &report
	s.mu.Unlock()

	if !report.HasFailures() {
		return
	}
	for _, n := range s.notifiers {
		if err := n.NotifyRun(ctx, report); err != nil {
			s.log.Warn("failed to send run notification", zap.Error(err))
		}
	}
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
