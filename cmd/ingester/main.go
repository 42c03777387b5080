package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/adapter/metrics"
	"github.com/hive-corporation/ctiwatch/internal/adapter/notifier"
	"github.com/hive-corporation/ctiwatch/internal/adapter/provider"
	"github.com/hive-corporation/ctiwatch/internal/adapter/repository"
	"github.com/hive-corporation/ctiwatch/internal/config"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
	"github.com/hive-corporation/ctiwatch/internal/logging"
)

var version = "dev"

func main() {
	daemon := flag.Bool("daemon", false, "Run on a schedule instead of once")
	feeds := flag.String("feeds", "", "Comma-separated feed names to run (default: all)")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics on this address in daemon mode, e.g. :9090")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "ctiwatch-ingester",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ failed to build logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.BoltPath)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer store.Close()

	client := httpclient.New(cfg.Ingest.FetchTimeout(), httpclient.FeedConfig("feeds"), log)

	normalizer := domain.NewNormalizer(nil)
	adapters := provider.Registry(cfg, client, normalizer)
	if *feeds != "" {
		adapters = provider.Select(adapters, splitList(*feeds))
		if len(adapters) == 0 {
			log.Fatal("no feed matches -feeds", zap.String("feeds", *feeds))
		}
	}

	metrics.InitMetrics()
	orch := service.NewOrchestrator(
		service.NewUpserter(store, log),
		log,
		service.WithConcurrency(cfg.Ingest.Concurrency),
		service.WithObserver(metrics.NewObserver()),
	)

	if !*daemon {
		runOnce(ctx, orch, adapters, log)
		return
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, log)
	}

	sched := service.NewScheduler(orch, adapters, cfg.Ingest.Interval(), log, buildNotifiers(cfg, log)...)
	sched.Start(ctx)
	log.Info("ingestion scheduler started", zap.Duration("interval", cfg.Ingest.Interval()))

	<-ctx.Done()
	log.Info("shutting down scheduler")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("scheduler did not stop cleanly", zap.Error(err))
	}
}

// runOnce performs one ingestion run and exits non-zero when any feed failed,
// so cron-style callers can alert on it.
func runOnce(ctx context.Context, orch *service.Orchestrator, adapters []ports.FeedAdapter, log *zap.Logger) {
	report := orch.RunAll(ctx, adapters)
	fmt.Print(report.Summary())

	if report.HasFailures() {
		log.Sync()
		os.Exit(1)
	}
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func buildNotifiers(cfg *config.Config, log *zap.Logger) []ports.RunNotifier {
	var notifiers []ports.RunNotifier

	if cfg.Notify.SlackWebhookURL != "" {
		notifiers = append(notifiers, notifier.NewSlackNotifier(cfg.Notify.SlackWebhookURL, nil))
		log.Info("slack notifier enabled")
	}
	if cfg.Notify.SentryDSN != "" {
		n, err := notifier.NewSentryNotifier(sentry.ClientOptions{
			Dsn:         cfg.Notify.SentryDSN,
			Environment: cfg.Logging.Environment,
			Release:     "ctiwatch@" + version,
		})
		if err != nil {
			log.Warn("sentry notifier disabled", zap.Error(err))
		} else {
			notifiers = append(notifiers, n)
			log.Info("sentry notifier enabled")
		}
	}
	return notifiers
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
