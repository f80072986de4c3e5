package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

type togglePinger struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *togglePinger) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *togglePinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *togglePinger) called() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls > 0
}

func TestGRPCHealthFollowsDirectory(t *testing.T) {
	pinger := &togglePinger{}
	srv := NewGRPCServer(GRPCServerConfig{Ready: pinger, CheckInterval: time.Hour, Logger: discardLogger()})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	// Wait for the watcher's first probe so it cannot overwrite the checks below.
	require.Eventually(t, pinger.called, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, srv.Check(ctx))
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	pinger.set(errDown)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, srv.Check(ctx))
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus(), "the process itself stays up")
}

func TestRecoveryInterceptor(t *testing.T) {
	intercept := recoveryUnaryInterceptor(discardLogger())
	info := &grpc.UnaryServerInfo{FullMethod: "/peermatch.v1.Matching/Boom"}

	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	assert.Equal(t, codes.OK, codeOf(nil))
	assert.Equal(t, codes.Unknown, codeOf(errors.New("plain")))
	assert.Equal(t, codes.NotFound, codeOf(status.Error(codes.NotFound, "missing")))
}
