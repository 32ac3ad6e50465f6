package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startHealthServer(t *testing.T) (*health.Server, int) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, h)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return h, lis.Addr().(*net.TCPAddr).Port
}

func TestGRPCDialerPing(t *testing.T) {
	h, port := startHealthServer(t)

	d := NewGRPCDialer(2*time.Second, 2*time.Second)
	conn, err := d.Dial(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.SendRecv(context.Background(), &Request{Type: MsgPing})
	require.NoError(t, err)
	assert.True(t, resp.OK())

	// A reachable but non-serving peer is a non-success return code, not
	// a transport failure.
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	resp, err = conn.SendRecv(context.Background(), &Request{Type: MsgPing})
	require.NoError(t, err)
	assert.False(t, resp.OK())
}

func TestGRPCDialerUnreachable(t *testing.T) {
	// Grab an ephemeral port and release it so nothing is listening.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	d := NewGRPCDialer(300*time.Millisecond, time.Second)
	_, err = d.Dial(context.Background(), "127.0.0.1", port)
	require.Error(t, err)
}

func TestGRPCUnknownRequestType(t *testing.T) {
	_, port := startHealthServer(t)

	d := NewGRPCDialer(2*time.Second, 2*time.Second)
	conn, err := d.Dial(context.Background(), "127.0.0.1", port)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.SendRecv(context.Background(), &Request{Type: 9999})
	require.Error(t, err)
}
