package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/hive-corporation/ctiwatch/internal/adapter/handler"
	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/adapter/metrics"
	"github.com/hive-corporation/ctiwatch/internal/adapter/repository"
	"github.com/hive-corporation/ctiwatch/internal/adapter/reputation"
	"github.com/hive-corporation/ctiwatch/internal/config"
	"github.com/hive-corporation/ctiwatch/internal/core/service"
	"github.com/hive-corporation/ctiwatch/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "ctiwatch-api",
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

	metrics.InitMetrics()

	query := service.NewQueryService(store, service.QueryConfig{
		DefaultPageSize:  cfg.API.DefaultPageSize,
		MaxPageSize:      cfg.API.MaxPageSize,
		MaxExportRecords: cfg.API.MaxExportRecords,
	}, log)

	vtClient := httpclient.New(30*time.Second, httpclient.DefaultConfig("virustotal"), log)
	cache := reputation.NewCache(ctx, cfg.Reputation.RedisAddr, cfg.Reputation.RedisPassword, cfg.Reputation.RedisDB, cfg.Reputation.CacheTTL(), log)
	repSvc := service.NewReputationService(reputation.NewVirusTotal(vtClient, cfg.Reputation.VirusTotalAPIKey), cache, store, log)
	repSvc.OnLookup(metrics.RecordReputationLookup)
	if cfg.Reputation.VirusTotalAPIKey == "" {
		log.Warn("VIRUSTOTAL_API_KEY not set, reputation lookups disabled")
	}
	if mc, ok := cache.(*reputation.MemoryCache); ok {
		go sweepCache(ctx, mc, cfg.Reputation.CacheTTL())
	}

	if cfg.API.AuthToken == "" {
		log.Warn("REST_API_AUTH_TOKEN not set, auth disabled")
	}
	restHandler := handler.NewRestHandler(query, repSvc, cfg.API.EnableExport, log)
	srv := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      handler.NewRouter(restHandler, cfg.API.AuthToken, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.API.GRPCListenAddr), zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthServer := handler.NewHealthServer(query, log)
	healthServer.Register(grpcServer)
	reflection.Register(grpcServer)
	go healthServer.Watch(ctx, 15*time.Second)

	go func() {
		log.Info("gRPC health service listening", zap.String("addr", cfg.API.GRPCListenAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	go func() {
		log.Info("REST API listening", zap.String("port", cfg.API.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	log.Info("server stopped gracefully")
}

func sweepCache(ctx context.Context, cache *reputation.MemoryCache, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Cleanup()
		}
	}
}
