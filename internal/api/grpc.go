package api

import (
	"context"
	"time"

	"ledger-core/internal/ledger"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the grpc.health.v1 surface of the node. Its status
// follows the repository: SERVING while Ping succeeds.
type HealthService struct {
	Server *grpc.Server
	health *health.Server
	repo   ledger.Repository
	log    zerolog.Logger
}

// NewHealthService registers the health service on a fresh gRPC server.
func NewHealthService(repo ledger.Repository, log zerolog.Logger) *HealthService {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthService{
		Server: srv,
		health: hs,
		repo:   repo,
		log:    log.With().Str("component", "grpc_health").Logger(),
	}
}

// Check pings the repository once and updates the status.
func (h *HealthService) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.repo.Ping(ctx); err != nil {
		h.log.Warn().Err(err).Msg("repository ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	return status
}

// Watch re-checks every interval until ctx is done.
func (h *HealthService) Watch(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks the node NOT_SERVING and stops the server.
func (h *HealthService) Shutdown() {
	h.health.Shutdown()
	h.Server.GracefulStop()
}
