// Package handler serves readiness over the standard gRPC health protocol.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "otp.v1.OTPService"

const pingTimeout = 2 * time.Second

// Pinger checks a dependency. *sql.DB and *redis.Client (via PingFunc) satisfy it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Checker pings its dependencies and publishes the result to a grpc health server.
type Checker struct {
	pingers map[string]Pinger
	server  *health.Server
	logger  *zap.Logger
}

// NewChecker returns a Checker over named pingers; nil pingers are ignored.
// With no pingers the service is always SERVING.
func NewChecker(pingers map[string]Pinger, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := make(map[string]Pinger, len(pingers))
	for name, p := range pingers {
		if p != nil {
			ps[name] = p
		}
	}
	return &Checker{pingers: ps, server: health.NewServer(), logger: logger.Named("health")}
}

// Server returns the grpc health server to register.
func (c *Checker) Server() *health.Server {
	return c.server
}

// Check pings every dependency, updates the serving status, and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	var firstErr error
	for name, p := range c.pingers {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.PingContext(pingCtx)
		cancel()
		if err != nil {
			c.logger.Warn("dependency not ready", zap.String("dependency", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if firstErr != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	c.server.SetServingStatus("", st)
	c.server.SetServingStatus(ServiceName, st)
	return firstErr
}

// Run calls Check every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	_ = c.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Check(ctx)
		}
	}
}

// Shutdown reports NOT_SERVING to every watcher ahead of GracefulStop.
func (c *Checker) Shutdown() {
	c.server.Shutdown()
}
