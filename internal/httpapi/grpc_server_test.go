package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type probeFunc func(ctx context.Context) error

func (f probeFunc) Check(ctx context.Context) error { return f(ctx) }

func startBufGRPC(t *testing.T, server *grpc.Server) healthpb.HealthClient {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return healthpb.NewHealthClient(conn)
}

func TestGRPCHealthFollowsProbe(t *testing.T) {
	var failing bool
	probe := probeFunc(func(context.Context) error {
		if failing {
			return errors.New("store down")
		}
		return nil
	})
	server, hs := NewGRPCServer(probe)
	client := startBufGRPC(t, server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	failing = true
	if got := hs.Refresh(ctx); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("Refresh returned %v", got)
	}
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check overall: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}
}

func TestGRPCHealthWatchShutsDownOnCancel(t *testing.T) {
	server, hs := NewGRPCServer(nil)
	client := startBufGRPC(t, server)

	watchCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hs.Watch(watchCtx, time.Hour)
		close(done)
	}()
	stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v", resp.GetStatus())
	}
}
