package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthhandler "github.com/ShiroSan123/otp-valhalla/internal/health/handler"
	"github.com/ShiroSan123/otp-valhalla/internal/server/interceptors"
)

// healthCheckMethod is skipped by request logging; probes call it every few seconds.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the services exposed over gRPC.
type Deps struct {
	// Health is the readiness checker. Required.
	Health *healthhandler.Checker
	// Reflection registers the reflection service, for grpcurl in development.
	Reflection bool
}

// NewGRPCServer returns a gRPC server with OTel instrumentation and request logging, with services registered.
func NewGRPCServer(deps Deps, logger *zap.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors.LoggingUnary(logger.Named("grpc"), map[string]bool{healthCheckMethod: true})),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with s.
//
//   - grpc.health.v1.Health → internal/health/handler
func RegisterServices(s *grpc.Server, deps Deps) {
	healthpb.RegisterHealthServer(s, deps.Health.Server())
	if deps.Reflection {
		reflection.Register(s)
	}
}
