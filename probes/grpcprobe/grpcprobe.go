// Package grpcprobe checks gRPC servers through the standard health service.
package grpcprobe

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/veggerby/ignition/probes"
)

// New returns a check that queries the health service on conn for the given
// service name ("" for the server as a whole).
func New(conn grpc.ClientConnInterface, service string) probes.Check {
	client := healthpb.NewHealthClient(conn)
	return func(ctx context.Context) error {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("grpc health %q: %s", service, resp.GetStatus())
		}
		return nil
	}
}
