package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/grpc/service"
	"github.com/KevoDB/mapfile/pkg/grpc/transport"
	"github.com/KevoDB/mapfile/pkg/telemetry"
)

// Server serves lookups over gRPC and, when the prometheus exporter is
// enabled, metrics over HTTP
type Server struct {
	grpc    *transport.GRPCServer
	metrics *http.Server
	logger  log.Logger
}

// NewServer creates a server for the partitions open in sh
func NewServer(opts *Options, sh *shell, tel telemetry.Telemetry, logger log.Logger) (*Server, error) {
	lookup := service.NewLookupServiceServer(sh.store, sh.readers, sh.partitioner, logger)

	grpcServer, err := transport.NewGRPCServer(opts.Config.ListenAddress, lookup, transport.ServerOptions{
		TLS:       opts.TLS,
		Telemetry: tel,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{grpc: grpcServer, logger: logger}

	if handler, ok := telemetry.Handler(tel); ok {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		s.metrics = &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Config.Telemetry.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s, nil
}

// Start starts the gRPC and metrics listeners without blocking
func (s *Server) Start() error {
	if err := s.grpc.Start(); err != nil {
		return err
	}

	if s.metrics != nil {
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server error: %v", err)
			}
		}()
		s.logger.Info("serving metrics on %s/metrics", s.metrics.Addr)
	}
	return nil
}

// Shutdown gracefully shuts down both listeners
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.grpc.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}

// runServer serves until SIGINT or SIGTERM
func runServer(opts *Options, sh *shell, tel telemetry.Telemetry, logger log.Logger) error {
	server, err := NewServer(opts, sh, tel, logger)
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	fmt.Printf("mapfile server started on %s serving %d partitions from %s\n",
		opts.Config.ListenAddress, len(sh.readers), sh.dir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	fmt.Println("Shutdown complete")
	return nil
}
