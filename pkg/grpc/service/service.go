// Package service implements the gRPC lookup service over an opened
// partition set. Messages are the protobuf well-known wrapper types, so the
// service needs no generated code.
package service

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KevoDB/mapfile/pkg/common/log"
	"github.com/KevoDB/mapfile/pkg/partition"
	"github.com/KevoDB/mapfile/pkg/sortedfile"
	"github.com/KevoDB/mapfile/pkg/stats"
	"github.com/KevoDB/mapfile/pkg/store"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "mapfile.LookupService"

	GetMethod        = "/" + ServiceName + "/Get"
	PartitionsMethod = "/" + ServiceName + "/Partitions"

	// DefaultMaxKeySize bounds the size of a lookup key
	DefaultMaxKeySize = 4096
)

// LookupServer is the server API of the lookup service
type LookupServer interface {
	// Get returns the value stored under the key, routed to its partition
	Get(ctx context.Context, key *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	// Partitions returns the number of partitions being served
	Partitions(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error)
}

// LookupServiceDesc describes the lookup service for grpc.Server registration
var LookupServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Partitions", Handler: partitionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mapfile/lookup.proto",
}

// RegisterLookupServer registers srv with s
func RegisterLookupServer(s grpc.ServiceRegistrar, srv LookupServer) {
	s.RegisterService(&LookupServiceDesc, srv)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Get(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func partitionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).Partitions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PartitionsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).Partitions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// LookupServiceServer serves lookups against a byte-keyed partition set
type LookupServiceServer struct {
	store       *store.Store[[]byte, []byte]
	readers     store.Readers[[]byte, []byte]
	partitioner partition.Partitioner[[]byte, []byte]
	logger      log.Logger
	maxKeySize  int
}

// NewLookupServiceServer creates a server for readers, routing keys with p.
// p must be the partitioner the partition set was written with.
func NewLookupServiceServer(s *store.Store[[]byte, []byte], readers store.Readers[[]byte, []byte],
	p partition.Partitioner[[]byte, []byte], logger log.Logger) *LookupServiceServer {

	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &LookupServiceServer{
		store:       s,
		readers:     readers,
		partitioner: p,
		logger:      logger.WithField("component", "lookup_service"),
		maxKeySize:  DefaultMaxKeySize,
	}
}

// Get implements LookupServer
func (s *LookupServiceServer) Get(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	s.store.Stats().TrackOperation(stats.OpGet)

	key := req.GetValue()
	if len(key) == 0 || len(key) > s.maxKeySize {
		return nil, status.Errorf(codes.InvalidArgument, "invalid key size %d", len(key))
	}

	value, err := s.store.Lookup(ctx, s.readers, s.partitioner, key, nil)
	if err != nil {
		return nil, toStatus(err)
	}

	return wrapperspb.Bytes(value), nil
}

// Partitions implements LookupServer
func (s *LookupServiceServer) Partitions(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error) {
	return wrapperspb.UInt32(uint32(len(s.readers))), nil
}

// toStatus maps store and file errors to gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, "key not found")
	case errors.Is(err, store.ErrNoPartitions):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, sortedfile.ErrReaderClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, sortedfile.ErrCorruption):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("lookup failed: %v", err))
	}
}
