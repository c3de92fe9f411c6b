package monitor

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner/session"
)

// HEALTH_SERVICE is the gRPC health service name that mirrors the session.
const HEALTH_SERVICE = "psenscan.Session"

// HealthReporter publishes the session phase through the standard gRPC
// health service: SERVING while Active, NOT_SERVING otherwise.
type HealthReporter struct {
	hs *health.Server
}

func NewHealthReporter() *HealthReporter {
	hs := health.NewServer()
	hs.SetServingStatus(HEALTH_SERVICE, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{hs: hs}
}

// ObservePhase has the signature of session.PhaseObserver.
func (h *HealthReporter) ObservePhase(_, to session.Phase) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if to == session.PhaseActive {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus(HEALTH_SERVICE, status)
}

// Register adds the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.hs)
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (h *HealthReporter) Shutdown() { h.hs.Shutdown() }

// Serve serves the health service on ln until ctx is cancelled.
func (h *HealthReporter) Serve(ctx context.Context, ln net.Listener) error {
	s := grpc.NewServer()
	h.Register(s)

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting gRPC health server on %s", ln.Addr())
		errCh <- s.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	h.Shutdown()
	s.GracefulStop()
	return nil
}
