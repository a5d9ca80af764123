package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"officesim/grid"
	"officesim/shared"
	"officesim/sim"
)

// Client is a typed client for the Simulation service
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to the simulation server at target. Extra options are
// applied after the default insecure transport credentials.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection. Close is then a no-op.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, fullMethod(methodHealthCheck), &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) GridState(ctx context.Context) (shared.GridState, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(methodGetGridState), &emptypb.Empty{}, out); err != nil {
		return shared.GridState{}, err
	}
	var gs shared.GridState
	if err := fromStruct(out, &gs); err != nil {
		return shared.GridState{}, fmt.Errorf("decode grid state: %w", err)
	}
	return gs, nil
}

// SpawnAgent asks the server for a new agent and returns its id
func (c *Client) SpawnAgent(ctx context.Context) (int, error) {
	out := new(wrapperspb.Int32Value)
	if err := c.cc.Invoke(ctx, fullMethod(methodSpawnAgent), &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

func (c *Client) SetDestination(ctx context.Context, agentID int, p grid.Position) error {
	in, err := structpb.NewStruct(map[string]any{
		"agent_id": agentID,
		"x":        p.X,
		"y":        p.Y,
	})
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, fullMethod(methodSetDestination), in, new(emptypb.Empty))
}

func (c *Client) ClearDestination(ctx context.Context, agentID int) error {
	id, err := sim.AgentID(agentID)
	if err != nil {
		return toStatus(err)
	}
	return c.cc.Invoke(ctx, fullMethod(methodClearDestination), wrapperspb.Int32(int32(id)), new(emptypb.Empty))
}

// Approach sends agentID towards targetID. It returns true when the two are
// already adjacent.
func (c *Client) Approach(ctx context.Context, agentID, targetID int) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{
		"agent_id":  agentID,
		"target_id": targetID,
	})
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, fullMethod(methodApproach), in, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// SignalStream receives signals from WatchSignals
type SignalStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next signal
func (s *SignalStream) Recv() (shared.Signal, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return shared.Signal{}, err
	}
	var sig shared.Signal
	if err := fromStruct(m, &sig); err != nil {
		return shared.Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}

// WatchSignals opens the signal stream. Cancel ctx to stop it.
func (c *Client) WatchSignals(ctx context.Context) (*SignalStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(streamWatchSignals))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SignalStream{stream: stream}, nil
}
