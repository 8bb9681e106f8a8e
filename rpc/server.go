package rpc

import (
	"context"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/service"
	"github.com/mohitkumar/loanflow/util"
	"go.opencensus.io/plugin/ocgrpc"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type GrpcConfig struct {
	LoanService *service.LoanService
}

// LoanFlowServer is the handler type of the loan flow service. Every method
// takes and returns a google.protobuf.Struct carrying the JSON form of the
// request and result.
type LoanFlowServer interface {
	Service() *service.LoanService
}

type grpcServer struct {
	*GrpcConfig
}

func (s *grpcServer) Service() *service.LoanService {
	return s.LoanService
}

func NewGrpcServer(config *GrpcConfig) (*grpc.Server, error) {
	logger := zap.L().Named("server")
	zapOpts := []grpc_zap.Option{
		grpc_zap.WithDurationField(
			func(duration time.Duration) zapcore.Field {
				return zap.Int64(
					"grpc.time_ns",
					duration.Nanoseconds(),
				)
			},
		),
	}
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	err := view.Register(ocgrpc.DefaultServerViews...)
	if err != nil {
		return nil, err
	}
	grpcOpts := make([]grpc.ServerOption, 0)
	grpcOpts = append(grpcOpts,
		grpc.StreamInterceptor(
			grpc_middleware.ChainStreamServer(
				grpc_ctxtags.StreamServerInterceptor(),
				grpc_zap.StreamServerInterceptor(logger, zapOpts...),
			)), grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpc_zap.UnaryServerInterceptor(logger, zapOpts...),
		)),
		grpc.StatsHandler(&ocgrpc.ServerHandler{}),
	)

	gsrv := grpc.NewServer(grpcOpts...)
	srv := &grpcServer{
		GrpcConfig: config,
	}
	gsrv.RegisterService(&LoanFlowServiceDesc, srv)
	return gsrv, nil
}

// unary adapts a typed service call to a Struct in, Struct out grpc handler.
func unary[Req any, Resp any](method string, call func(ctx context.Context, s *service.LoanService, req Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	h := func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			var typed Req
			if err := util.ConvertFromStruct(req.(*structpb.Struct), &typed); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			out, err := call(ctx, srv.(LoanFlowServer).Service(), typed)
			if err != nil {
				return nil, api.ToStatusError(err)
			}
			return util.ConvertToStruct(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		return interceptor(ctx, in, info, handler)
	}
	return grpc.MethodDesc{MethodName: method, Handler: h}
}
