package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"officesim/grid"
	"officesim/occupancy"
	"officesim/shared"
	"officesim/sim"
	"officesim/transport"
)

// Server implements SimulationServer on top of a simulation core. Signals
// come from the frames broadcaster fed by the tick loop.
type Server struct {
	core   *sim.Core
	frames *transport.Broadcaster[shared.TickFrame]
	log    *slog.Logger
}

var _ SimulationServer = (*Server)(nil)

func NewServer(core *sim.Core, frames *transport.Broadcaster[shared.TickFrame], logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		core:   core,
		frames: frames,
		log:    logger.With("transport", "grpc"),
	}
}

// toStatus maps core errors to gRPC status codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, sim.ErrAgentNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, sim.ErrNoFreeTile):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, sim.ErrInvalidDestination), errors.Is(err, occupancy.ErrOccupied):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// agentField reads an agent id field. Whole numbers too wide for an id name
// no agent and are reported as NotFound.
func agentField(req *structpb.Struct, name string) (occupancy.AgentID, error) {
	f, err := wholeField(req, name)
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, err.Error())
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return 0, status.Errorf(codes.NotFound, "agent %.0f: %v", f, sim.ErrAgentNotFound)
	}
	return sim.AgentID(int(f))
}

func (s *Server) HealthCheck(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String("healthy"), nil
}

func (s *Server) GetGridState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := toStruct(s.core.Snapshot())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode grid state: %v", err)
	}
	return st, nil
}

func (s *Server) SpawnAgent(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	id, err := s.core.SpawnAgent()
	if err != nil {
		s.log.Warn("spawn rejected", "error", err)
		return nil, toStatus(err)
	}
	pos, _ := s.core.Position(id)
	s.log.Info("agent registered", "agent", id, "position", pos)
	return wrapperspb.Int32(int32(id)), nil
}

func (s *Server) SetDestination(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, err := agentField(req, "agent_id")
	if err != nil {
		return nil, err
	}
	x, err := intField(req, "x")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	y, err := intField(req, "y")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.core.SetDestination(id, grid.Position{X: x, Y: y}); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) ClearDestination(ctx context.Context, req *wrapperspb.Int32Value) (*emptypb.Empty, error) {
	if err := s.core.ClearDestination(occupancy.AgentID(req.GetValue())); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Approach(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	source, err := agentField(req, "agent_id")
	if err != nil {
		return nil, err
	}
	target, err := agentField(req, "target_id")
	if err != nil {
		return nil, err
	}
	done, err := s.core.Approach(source, target)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(done), nil
}

// WatchSignals streams every signal of every tick until the client goes away
// or the broadcaster is closed.
func (s *Server) WatchSignals(_ *emptypb.Empty, stream WatchSignalsServer) error {
	id, frames := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	s.log.Info("signal watcher connected", "watcher", id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("signal watcher disconnected", "watcher", id)
			return nil
		case frame, ok := <-frames:
			if !ok {
				return status.Error(codes.Unavailable, "simulation stopped")
			}
			for _, sig := range frame.Signals {
				msg, err := toStruct(sig)
				if err != nil {
					return status.Errorf(codes.Internal, "encode signal: %v", err)
				}
				if err := stream.Send(msg); err != nil {
					return err
				}
			}
		}
	}
}
