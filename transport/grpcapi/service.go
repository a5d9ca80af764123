// Package grpcapi exposes the simulation over gRPC. The service is described
// by hand on top of the protobuf well-known types, so no generated code is
// needed: grid state and signals travel as google.protobuf.Struct values
// holding the JSON form of the shared types.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "officesim.v1.Simulation"

const (
	methodHealthCheck      = "HealthCheck"
	methodGetGridState     = "GetGridState"
	methodSpawnAgent       = "SpawnAgent"
	methodSetDestination   = "SetDestination"
	methodClearDestination = "ClearDestination"
	methodApproach         = "Approach"
	streamWatchSignals     = "WatchSignals"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// SimulationServer is the server API for the Simulation service
type SimulationServer interface {
	HealthCheck(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	GetGridState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SpawnAgent(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error)
	// SetDestination takes {agent_id, x, y}
	SetDestination(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ClearDestination(context.Context, *wrapperspb.Int32Value) (*emptypb.Empty, error)
	// Approach takes {agent_id, target_id}
	Approach(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	WatchSignals(*emptypb.Empty, WatchSignalsServer) error
}

// WatchSignalsServer is the server side of the WatchSignals stream
type WatchSignalsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchSignalsServer struct {
	grpc.ServerStream
}

func (x *watchSignalsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterSimulationServer registers srv on s
func RegisterSimulationServer(s grpc.ServiceRegistrar, srv SimulationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler the way protoc-gen-go-grpc lays them out
func unary[Req any](method string, newReq func() Req, call func(SimulationServer, context.Context, Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SimulationServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchSignalsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SimulationServer).WatchSignals(m, &watchSignalsServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc for the Simulation service
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodHealthCheck,
			Handler: unary(methodHealthCheck, newEmpty, func(s SimulationServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.HealthCheck(ctx, in)
			}),
		},
		{
			MethodName: methodGetGridState,
			Handler: unary(methodGetGridState, newEmpty, func(s SimulationServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.GetGridState(ctx, in)
			}),
		},
		{
			MethodName: methodSpawnAgent,
			Handler: unary(methodSpawnAgent, newEmpty, func(s SimulationServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.SpawnAgent(ctx, in)
			}),
		},
		{
			MethodName: methodSetDestination,
			Handler: unary(methodSetDestination, newStruct, func(s SimulationServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.SetDestination(ctx, in)
			}),
		},
		{
			MethodName: methodClearDestination,
			Handler: unary(methodClearDestination, newInt32, func(s SimulationServer, ctx context.Context, in *wrapperspb.Int32Value) (any, error) {
				return s.ClearDestination(ctx, in)
			}),
		},
		{
			MethodName: methodApproach,
			Handler: unary(methodApproach, newStruct, func(s SimulationServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return s.Approach(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamWatchSignals,
			Handler:       watchSignalsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "officesim/v1/simulation.proto",
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newInt32() *wrapperspb.Int32Value { return new(wrapperspb.Int32Value) }
