package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ReceiverService is the health-checked service name for the VMC receiver.
const ReceiverService = "facetrack.Receiver"

// HealthServer exposes the standard gRPC health protocol so supervisors can
// probe whether the VMC receiver is listening.
type HealthServer struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer listens on addr. Both the overall status and
// ReceiverService start as NOT_SERVING until SetReceiverRunning is called.
func NewHealthServer(addr string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ReceiverService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
	}, nil
}

// Addr returns the listener address.
func (s *HealthServer) Addr() string {
	return s.listener.Addr().String()
}

// SetReceiverRunning updates the receiver's serving status.
func (s *HealthServer) SetReceiverRunning(running bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if running {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ReceiverService, status)
}

// Serve runs the gRPC server until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context) error {
	log.Printf("gRPC health server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case err := <-serveErr:
		return err
	}
}
