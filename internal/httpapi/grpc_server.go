package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"auditdesk.io/internal/obs"
)

// ServiceName is the gRPC health service name reported next to the
// overall ("") status.
const ServiceName = "auditdesk.v1.AuditDesk"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer mirrors the HTTP readiness probe onto the standard gRPC
// health protocol.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
}

// NewGRPCServer creates a gRPC server exposing grpc.health.v1.Health.
func NewGRPCServer(r readinessChecker, opts ...grpc.ServerOption) (*grpc.Server, *HealthServer) {
	srv := grpc.NewServer(opts...)
	hs := &HealthServer{Server: health.NewServer(), readiness: r}
	healthpb.RegisterHealthServer(srv, hs.Server)
	hs.Refresh(context.Background())
	return srv, hs
}

// Refresh runs the probe once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.readiness != nil {
		if err := h.readiness.Check(ctx); err != nil {
			obs.Logger().Warn("readiness probe failed", "error", err.Error())
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.SetServingStatus("", status)
	h.SetServingStatus(ServiceName, status)
	return status
}

// Watch refreshes the status every interval until ctx is done, then marks
// everything NOT_SERVING.
func (h *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
