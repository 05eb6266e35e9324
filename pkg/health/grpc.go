package health

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCChecker queries the standard grpc.health.v1 service of a decider
type GRPCChecker struct {
	// Address is the host:port of the gRPC server
	Address string

	// Service is the service name to query; empty means the whole server
	Service string

	// Timeout bounds a single check (default: 5 seconds)
	Timeout time.Duration
}

// NewGRPCChecker creates a new gRPC health checker
func NewGRPCChecker(address string) *GRPCChecker {
	return &GRPCChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Check performs the gRPC health check
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	conn, err := grpc.NewClient(g.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return newResult(start, false, "dial %s: %v", g.Address, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: g.Service})
	if err != nil {
		return newResult(start, false, "health rpc failed: %v", err)
	}

	status := resp.GetStatus()
	return newResult(start, status == healthpb.HealthCheckResponse_SERVING, "%s", status)
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}

// WithService sets the service name to query
func (g *GRPCChecker) WithService(service string) *GRPCChecker {
	g.Service = service
	return g
}
