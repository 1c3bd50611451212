package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authcore.org/internal/obs"
)

// HealthServer publishes readiness over the standard gRPC health protocol,
// both for the whole server ("") and under the service name.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	interval  time.Duration
	logger    logrus.FieldLogger
}

func NewHealthServer(r readinessChecker, interval time.Duration, logger logrus.FieldLogger) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = obs.Logger()
	}
	hs := &HealthServer{srv: health.NewServer(), readiness: r, interval: interval, logger: logger}
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Probe checks readiness once and updates the serving status.
func (h *HealthServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.WithError(err).Warn("readiness check failed")
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		obs.SetReady(false)
		return false
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	obs.SetReady(true)
	return true
}

// Run probes until ctx is done, then marks everything as shutting down.
func (h *HealthServer) Run(ctx context.Context) {
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			obs.SetReady(false)
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
