// Package grpc serves the standard gRPC health service for the attachment
// server so that orchestrators can probe it.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall "".
const ServiceName = "attachkeeper"

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

type GRPCServer struct {
	address       string
	health        *health.Server
	probe         Probe
	probeInterval time.Duration
	logger        logging.Logger
	listen        func(network, address string) (net.Listener, error)
}

// NewGRPCServer returns a health server. When probe is not nil it is run
// every probeInterval and a failure flips the status to NOT_SERVING until
// the next successful run.
func NewGRPCServer(a string, l logging.Logger, probe Probe, probeInterval time.Duration) *GRPCServer {
	return &GRPCServer{
		address:       a,
		health:        health.NewServer(),
		probe:         probe,
		probeInterval: probeInterval,
		logger:        l.With("module", "grpc_server"),
		listen:        net.Listen,
	}
}

func (s *GRPCServer) setServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// register builds the grpc.Server with the health service attached.
func (s *GRPCServer) register() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	// announces address
	listen, err := s.listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.register()
	s.setServing(true)

	if s.probe != nil && s.probeInterval > 0 {
		go s.runProbe(ctx)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

func (s *GRPCServer) runProbe(ctx context.Context) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			if ok := err == nil; ok != healthy {
				healthy = ok
				s.setServing(ok)
				if ok {
					s.logger.Info(ctx, "dependency recovered")
				} else {
					s.logger.Error(ctx, "dependency check failed", "error", err)
				}
			}
		}
	}
}
