package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/grpc/service"
	"github.com/KevoDB/mapfile/pkg/telemetry"
)

// ServerOptions configures a GRPCServer
type ServerOptions struct {
	// TLS enables TLS when non-nil
	TLS       *TLSConfig
	Telemetry telemetry.Telemetry
	Logger    log.Logger
}

// GRPCServer serves the lookup service over gRPC
type GRPCServer struct {
	address   string
	server    *grpc.Server
	listener  net.Listener
	logger    log.Logger
	telemetry telemetry.Telemetry
	mu        sync.Mutex
	started   bool
}

// NewGRPCServer creates a server for lookup that will listen on address
func NewGRPCServer(address string, lookup service.LookupServer, options ServerOptions) (*GRPCServer, error) {
	s := &GRPCServer{
		address:   address,
		logger:    options.Logger,
		telemetry: options.Telemetry,
	}
	if s.logger == nil {
		s.logger = log.GetDefaultLogger()
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.NewNoop()
	}

	var serverOpts []grpc.ServerOption

	if options.TLS != nil {
		tlsConfig, err := LoadServerTLSConfig(options.TLS.CertFile, options.TLS.KeyFile, options.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	kaProps := keepalive.ServerParameters{
		MaxConnectionIdle:     60 * time.Second,
		MaxConnectionAge:      5 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  15 * time.Second,
		Timeout:               5 * time.Second,
	}

	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	serverOpts = append(serverOpts,
		grpc.KeepaliveParams(kaProps),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
		grpc.UnaryInterceptor(s.instrument),
	)

	s.server = grpc.NewServer(serverOpts...)
	service.RegisterLookupServer(s.server, lookup)

	return s, nil
}

// instrument records the duration and outcome of every unary call
func (s *GRPCServer) instrument(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {

	start := time.Now()
	ctx, span := s.telemetry.StartSpan(ctx, info.FullMethod)
	defer span.End()

	resp, err := handler(ctx, req)

	code := status.Code(err)
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentServer),
		attribute.String(telemetry.AttrOperationType, info.FullMethod),
		attribute.String(telemetry.AttrStatus, code.String()),
	}
	span.SetAttributes(attrs...)
	telemetry.RecordDuration(ctx, s.telemetry, telemetry.MetricRPCDuration, start, attrs...)

	s.logger.Debug("%s %s in %s", info.FullMethod, code, time.Since(start))
	return resp, err
}

// Start listens on the configured address and serves in the background
func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	go func() {
		if err := s.Serve(listener); err != nil {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Serve serves on listener and blocks until the server stops
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.listener = listener
	s.started = true
	s.mu.Unlock()

	s.logger.Info("serving lookups on %s", listener.Addr())
	return s.server.Serve(listener)
}

// Addr returns the listening address, or nil before the server is started
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server gracefully, forcing it down when ctx expires
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, forcing server stop")
		s.server.Stop()
	}

	s.started = false
	return nil
}
