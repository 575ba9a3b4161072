package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cinemaws.org/internal/obs"
)

// IdentityServiceName is the health service name reported next to the
// overall ("") status.
const IdentityServiceName = "cinemaws.identity"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes readiness over grpc.health.v1.
type HealthServer struct {
	health    *health.Server
	readiness readinessChecker
	interval  time.Duration
}

// NewHealthServer starts in NOT_SERVING until the first probe.
func NewHealthServer(r readinessChecker, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := &HealthServer{
		health:    health.NewServer(),
		readiness: r,
		interval:  interval,
	}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to s.
func (hs *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, hs.health)
}

// Probe runs one readiness check and publishes the result.
func (hs *HealthServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, hs.interval)
	defer cancel()
	if err := hs.readiness.Check(ctx); err != nil {
		obs.Logger().Warn("readiness probe failed", "error", err.Error())
		hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	hs.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run probes until ctx is done, then marks everything NOT_SERVING.
func (hs *HealthServer) Run(ctx context.Context) {
	hs.Probe(ctx)
	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.health.Shutdown()
			return
		case <-ticker.C:
			hs.Probe(ctx)
		}
	}
}

func (hs *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	hs.health.SetServingStatus("", status)
	hs.health.SetServingStatus(IdentityServiceName, status)
}
