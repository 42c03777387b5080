package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name probes can ask for besides "".
const ServiceName = "ctiwatch.v1.API"

type pinger interface {
	Health(ctx context.Context) error
}

// HealthServer publishes SERVING or NOT_SERVING over the standard gRPC
// health protocol, following the store ping.
type HealthServer struct {
	health *health.Server
	store  pinger
	log    *zap.Logger
}

func NewHealthServer(store pinger, log *zap.Logger) *HealthServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HealthServer{
		health: health.NewServer(),
		store:  store,
		log:    log,
	}
}

func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Check pings the store once and updates the published status.
func (s *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Health(ctx); err != nil {
		s.log.Warn("store ping failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Watch re-checks every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	s.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so probes drain traffic.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
}
