package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KevoDB/mapfile/pkg/grpc/service"
	"github.com/KevoDB/mapfile/pkg/store"
)

// ErrClientClosed is returned by calls on a closed client
var ErrClientClosed = errors.New("client is closed")

// ClientOptions configures a Client
type ClientOptions struct {
	// TLS enables TLS when non-nil
	TLS *TLSConfig
	// Timeout bounds each call; zero means the caller's context only
	Timeout time.Duration
	// Dialer replaces the default network dialer
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Client calls a remote lookup service
type Client struct {
	endpoint string
	options  ClientOptions
	conn     *grpc.ClientConn
	mu       sync.RWMutex
}

// NewClient creates a client for the lookup service at endpoint. The
// connection is established lazily on the first call.
func NewClient(endpoint string, options ClientOptions) (*Client, error) {
	dialOptions := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                15 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if options.TLS != nil {
		tlsConfig, err := LoadClientTLSConfig(options.TLS)
		if err != nil {
			return nil, err
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if options.Dialer != nil {
		dialOptions = append(dialOptions, grpc.WithContextDialer(options.Dialer))
	}

	conn, err := grpc.NewClient(endpoint, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", endpoint, err)
	}

	return &Client{
		endpoint: endpoint,
		options:  options,
		conn:     conn,
	}, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.conn == nil {
		return ErrClientClosed
	}

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	return c.conn.Invoke(ctx, method, in, out)
}

// Get returns the value stored under key. A missing key yields
// store.ErrNotFound.
func (c *Client) Get(ctx context.Context, key []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, service.GetMethod, wrapperspb.Bytes(key), out); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get failed: %w", err)
	}
	return out.GetValue(), nil
}

// Partitions returns the number of partitions served by the remote end
func (c *Client) Partitions(ctx context.Context) (int, error) {
	out := new(wrapperspb.UInt32Value)
	if err := c.invoke(ctx, service.PartitionsMethod, &emptypb.Empty{}, out); err != nil {
		return 0, fmt.Errorf("partitions failed: %w", err)
	}
	return int(out.GetValue()), nil
}

// Endpoint returns the address the client calls
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close closes the connection. Calling Close again returns nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
