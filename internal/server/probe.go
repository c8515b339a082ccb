package server

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

var (
	ErrBackendUnavailable = errors.New("compiler backend unavailable")
	ErrBackendNotServing  = errors.New("compiler backend not serving")
)

// ProbeBackend asks the gRPC health service at addr for its overall status.
func ProbeBackend(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if b, err := protojson.Marshal(resp); err == nil {
		log.Debug("Backend health", "addr", addr, "response", string(b))
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrBackendNotServing, resp.GetStatus())
	}
	return nil
}
