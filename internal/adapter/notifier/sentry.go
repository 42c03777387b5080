package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// SentryNotifier captures one event per failed feed, tagged with the source.
type SentryNotifier struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

var _ ports.RunNotifier = (*SentryNotifier)(nil)

// NewSentryNotifier builds a dedicated hub so the global one is left alone.
func NewSentryNotifier(opts sentry.ClientOptions) (*SentryNotifier, error) {
	if opts.SampleRate == 0 {
		opts.SampleRate = 1.0
	}
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return &SentryNotifier{
		hub:          sentry.NewHub(client, sentry.NewScope()),
		flushTimeout: 2 * time.Second,
	}, nil
}

func (s *SentryNotifier) NotifyRun(ctx context.Context, report domain.RunReport) error {
	failed := report.FailedSources()
	for _, res := range failed {
		s.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("source", res.Source)
			scope.SetTag("status", string(res.Status))
			scope.SetExtra("fetched", res.Fetched)
			scope.SetExtra("duration", res.Duration.String())
			s.hub.CaptureException(errors.New(res.Source + ": " + res.Error))
		})
	}
	if len(failed) > 0 && !s.hub.Flush(s.flushTimeout) {
		return errors.New("sentry flush timed out")
	}
	return nil
}
