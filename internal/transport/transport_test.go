package transport

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealth_FlipsWithServingState(t *testing.T) {
	srv, err := StartServer(0)
	if err != nil {
		t.Fatalf("StartServer: %v", err)
	}
	go func() { _ = srv.Serve() }()
	defer srv.Stop()

	cli, err := Dial(fmt.Sprintf("127.0.0.1:%d", srv.Addr().(*net.TCPAddr).Port))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := cli.Check(ctx, "")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("want NOT_SERVING before start, got %s", st)
	}

	srv.SetServing(true, "transfer-request")
	for _, svc := range []string{"", "transfer-request"} {
		st, err = cli.Check(ctx, svc)
		if err != nil {
			t.Fatalf("Check %q: %v", svc, err)
		}
		if st != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("want SERVING for %q, got %s", svc, st)
		}
	}

	if _, err := cli.Check(ctx, "unknown"); err == nil {
		t.Fatal("want error for unregistered service")
	}
}
