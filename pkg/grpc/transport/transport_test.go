package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/store"
)

const bufSize = 1024 * 1024

// mapServer serves lookups from an in-memory map
type mapServer struct {
	data map[string]string
}

func (m *mapServer) Get(_ context.Context, key *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	v, ok := m.data[string(key.GetValue())]
	if !ok {
		return nil, toNotFound()
	}
	return wrapperspb.Bytes([]byte(v)), nil
}

func (m *mapServer) Partitions(_ context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error) {
	return wrapperspb.UInt32(2), nil
}

func startBufServer(t *testing.T) (*GRPCServer, *Client) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	server, err := NewGRPCServer("bufnet", &mapServer{data: map[string]string{"a": "1", "b": "2"}},
		ServerOptions{Logger: log.NewNopLogger()})
	require.NoError(t, err)

	go server.Serve(lis)

	client, err := NewClient("passthrough:///bufnet", ClientOptions{
		Timeout: 5 * time.Second,
		Dialer: func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Stop(ctx)
	})
	return server, client
}

func TestClientGet(t *testing.T) {
	_, client := startBufServer(t)
	ctx := context.Background()

	v, err := client.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	_, err = client.Get(ctx, []byte("z"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClientPartitions(t *testing.T) {
	_, client := startBufServer(t)

	n, err := client.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClientClose(t *testing.T) {
	_, client := startBufServer(t)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Get(context.Background(), []byte("a"))
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestServerStartStop(t *testing.T) {
	server, err := NewGRPCServer("127.0.0.1:0", &mapServer{}, ServerOptions{Logger: log.NewNopLogger()})
	require.NoError(t, err)
	assert.Nil(t, server.Addr())

	require.NoError(t, server.Start())
	require.Eventually(t, func() bool { return server.Addr() != nil }, time.Second, 10*time.Millisecond)

	client, err := NewClient(server.Addr().String(), ClientOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	n, err := client.Partitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx))
}

func TestServerTLSMissingFiles(t *testing.T) {
	_, err := NewGRPCServer("127.0.0.1:0", &mapServer{}, ServerOptions{TLS: &TLSConfig{}})
	assert.Error(t, err)

	_, err = NewGRPCServer("127.0.0.1:0", &mapServer{}, ServerOptions{
		TLS: &TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
	})
	assert.Error(t, err)
}

func toNotFound() error {
	return status.Error(codes.NotFound, "key not found")
}
