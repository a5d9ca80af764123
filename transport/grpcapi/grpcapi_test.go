package grpcapi

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"officesim/grid"
	"officesim/level"
	"officesim/shared"
	"officesim/sim"
	"officesim/transport"
)

type fixture struct {
	core   *sim.Core
	frames *transport.Broadcaster[shared.TickFrame]
	client *Client
}

func startServer(t *testing.T, rows ...string) *fixture {
	t.Helper()
	ix, warnings, err := (&level.Level{Rows: rows}).Build()
	require.NoError(t, err)
	require.Empty(t, warnings)

	opts := sim.DefaultOptions()
	opts.Rand = rand.New(rand.NewSource(1))
	core := sim.New(ix, opts)
	frames := transport.NewBroadcaster[shared.TickFrame](0)

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterSimulationServer(s, NewServer(core, frames, nil))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &fixture{core: core, frames: frames, client: client}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

var yard = []string{
	"........",
	"..#.....",
	"........",
}

func TestHealthCheck(t *testing.T) {
	f := startServer(t, yard...)
	got, err := f.client.HealthCheck(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, "healthy", got)
}

func TestSpawnAndGridState(t *testing.T) {
	f := startServer(t, yard...)
	ctx := testContext(t)

	id, err := f.client.SpawnAgent(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	gs, err := f.client.GridState(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.core.RunID(), gs.RunID)
	assert.Equal(t, 8, gs.Width)
	assert.Equal(t, 3, gs.Height)
	assert.Equal(t, yard, gs.Rows)
	require.Len(t, gs.Agents, 1)
	assert.Equal(t, 1, gs.Agents[0].ID)
	assert.Equal(t, "idle", gs.Agents[0].Status)

	pos, err := f.core.Position(1)
	require.NoError(t, err)
	assert.Equal(t, pos, gs.Agents[0].Position)
}

func TestSpawnOnFullGrid(t *testing.T) {
	f := startServer(t, "#.#")
	ctx := testContext(t)

	_, err := f.client.SpawnAgent(ctx)
	require.NoError(t, err)
	_, err = f.client.SpawnAgent(ctx)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestSetDestinationWalks(t *testing.T) {
	f := startServer(t, yard...)
	ctx := testContext(t)

	id, err := f.core.SpawnAgentAt(grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	dest := grid.Position{X: 7, Y: 2}
	require.NoError(t, f.client.SetDestination(ctx, int(id), dest))

	for i := 0; i < 500; i++ {
		f.core.Tick(0.1)
		if ok, _ := f.core.HasArrived(id); ok {
			break
		}
	}
	gs, err := f.client.GridState(ctx)
	require.NoError(t, err)
	require.Len(t, gs.Agents, 1)
	assert.Equal(t, dest, gs.Agents[0].Position)
	assert.True(t, gs.Agents[0].Arrived())
}

func TestRequestErrors(t *testing.T) {
	f := startServer(t, yard...)
	ctx := testContext(t)
	id, err := f.core.SpawnAgentAt(grid.Position{X: 0, Y: 0})
	require.NoError(t, err)

	err = f.client.SetDestination(ctx, 42, grid.Position{X: 1, Y: 1})
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = f.client.SetDestination(ctx, int(id), grid.Position{X: 2, Y: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "wall")

	err = f.client.SetDestination(ctx, int(id), grid.Position{X: 30, Y: 30})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "off the map")

	err = f.client.ClearDestination(ctx, 42)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.NoError(t, f.client.ClearDestination(ctx, int(id)))

	bad, err := structpb.NewStruct(map[string]any{"agent_id": 1, "x": 1.5, "y": 1})
	require.NoError(t, err)
	err = f.client.cc.Invoke(ctx, fullMethod(methodSetDestination), bad, new(emptypb.Empty))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "fractional x")

	aliased := 1<<32 + int(id)
	err = f.client.SetDestination(ctx, aliased, grid.Position{X: 4, Y: 0})
	assert.Equal(t, codes.NotFound, status.Code(err), "id wider than 32 bits")
	err = f.client.ClearDestination(ctx, aliased)
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = f.client.Approach(ctx, aliased, int(id))
	assert.Equal(t, codes.NotFound, status.Code(err))
	arrived, err := f.core.HasArrived(id)
	require.NoError(t, err)
	assert.True(t, arrived, "agent 1 was not steered")

	huge, err := structpb.NewStruct(map[string]any{"agent_id": 1, "x": 1e12, "y": 0})
	require.NoError(t, err)
	err = f.client.cc.Invoke(ctx, fullMethod(methodSetDestination), huge, new(emptypb.Empty))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "x out of range")

	missing, err := structpb.NewStruct(map[string]any{"agent_id": 1})
	require.NoError(t, err)
	_, err = f.client.Approach(ctx, 1, 42)
	assert.Equal(t, codes.NotFound, status.Code(err))
	err = f.client.cc.Invoke(ctx, fullMethod(methodApproach), missing, new(emptypb.Empty))
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "no target_id")
}

func TestApproach(t *testing.T) {
	f := startServer(t, yard...)
	ctx := testContext(t)
	a, err := f.core.SpawnAgentAt(grid.Position{X: 0, Y: 0})
	require.NoError(t, err)
	b, err := f.core.SpawnAgentAt(grid.Position{X: 1, Y: 1})
	require.NoError(t, err)
	c, err := f.core.SpawnAgentAt(grid.Position{X: 6, Y: 0})
	require.NoError(t, err)

	done, err := f.client.Approach(ctx, int(a), int(b))
	require.NoError(t, err)
	assert.True(t, done, "already adjacent")

	done, err = f.client.Approach(ctx, int(c), int(b))
	require.NoError(t, err)
	assert.False(t, done)
	gs, err := f.client.GridState(ctx)
	require.NoError(t, err)
	for _, st := range gs.Agents {
		if st.ID == int(c) {
			require.NotNil(t, st.Destination)
			assert.True(t, st.Destination.IsAdjacent(grid.Position{X: 1, Y: 1}))
		}
	}
}

func TestWatchSignals(t *testing.T) {
	f := startServer(t, yard...)
	ctx := testContext(t)
	id, err := f.core.SpawnAgentAt(grid.Position{X: 0, Y: 0})
	require.NoError(t, err)

	stream, err := f.client.WatchSignals(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.frames.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.core.SetDestination(id, grid.Position{X: 3, Y: 0}))
	frame := f.core.Step(0.1)
	require.NotEmpty(t, frame.Signals)
	f.frames.Publish(frame)

	sig, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, frame.Signals[0], sig)
	assert.Equal(t, "searching", sig.Type)
	assert.Equal(t, int(id), sig.AgentID)

	f.frames.Close()
	for i := 1; i < len(frame.Signals); i++ {
		_, err = stream.Recv()
		require.NoError(t, err)
	}
	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
