package walker

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"officesim/grid"
	"officesim/occupancy"
)

const (
	testTile  = 16.0
	testSpeed = 75.0
	testDt    = 0.1
)

type world struct {
	t      *testing.T
	ix     *grid.Index
	table  *occupancy.Table
	res    *occupancy.Reservations
	out    *Outbox
	env    *Env
	agents []*Agent
}

// newWorld builds a w x h outdoor grid; walls are tagged as such
func newWorld(t *testing.T, w, h int, walls ...grid.Position) *world {
	t.Helper()
	ix := grid.NewIndex()
	isWall := grid.PositionSet{}
	for _, p := range walls {
		isWall.Add(p)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := grid.Position{X: x, Y: y}
			_, err := ix.Register(p)
			require.NoError(t, err)
			flags := grid.FlagOutside | grid.FlagTraversable
			if isWall.Has(p) {
				flags = grid.FlagWall
			}
			require.NoError(t, ix.Tag(p, flags, ""))
		}
	}
	ix.Seal()

	table := occupancy.NewTable()
	res := occupancy.NewReservations(table)
	out := &Outbox{}
	return &world{
		t:     t,
		ix:    ix,
		table: table,
		res:   res,
		out:   out,
		env: &Env{
			Index:          ix,
			Reservations:   res,
			RetryThreshold: DefaultRetryThreshold,
			MaxDepth:       500,
			TileSize:       testTile,
			Out:            out,
		},
	}
}

func (w *world) spawn(id occupancy.AgentID, p grid.Position) *Agent {
	w.t.Helper()
	require.NoError(w.t, w.table.OnEnter(p, id))
	a := NewAgent(id, p, testTile, testSpeed)
	w.agents = append(w.agents, a)
	return a
}

func (w *world) tick() {
	w.res.BeginTick()
	w.env.Occupied = w.table.Snapshot()
	for _, a := range w.agents {
		a.Update(w.env, testDt)
	}
}

func (w *world) tickUntil(max int, done func() bool) bool {
	for i := 0; i < max; i++ {
		if done() {
			return true
		}
		w.tick()
	}
	return done()
}

func isFollowing(a *Agent) bool {
	_, ok := a.State.(*Following)
	return ok
}

func TestWalkStraightPath(t *testing.T) {
	w := newWorld(t, 6, 1)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	a.SetDestination(grid.Position{X: 5, Y: 0}, w.res)
	assert.False(t, a.HasArrived())

	require.True(t, w.tickUntil(200, a.HasArrived))
	assert.Equal(t, grid.Position{X: 5, Y: 0}, a.Position)
	assert.Equal(t, grid.ToWorld(a.Position, testTile), a.Motion.Pos)

	var kinds []Kind
	for _, n := range w.out.Drain() {
		if n.Kind == SignalSearching || n.Kind == SignalFollowing || n.Kind == SignalArrived {
			kinds = append(kinds, n.Kind)
		}
	}
	assert.Equal(t, []Kind{SignalSearching, SignalFollowing, SignalArrived}, kinds)
}

func TestReplanOnBlockDetours(t *testing.T) {
	w := newWorld(t, 6, 3)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	goal := grid.Position{X: 5, Y: 0}
	a.SetDestination(goal, w.res)

	require.True(t, w.tickUntil(50, func() bool { return isFollowing(a) }))
	blocked := grid.Position{X: 2, Y: 0}
	require.NoError(t, w.table.OnEnter(blocked, 99))

	maxRetries := 0
	arrived := w.tickUntil(500, func() bool {
		assert.NotEqual(t, blocked, a.Position)
		if f, ok := a.State.(*Following); ok && f.Retries > maxRetries {
			maxRetries = f.Retries
		}
		return a.HasArrived()
	})
	require.True(t, arrived)
	assert.Equal(t, goal, a.Position)
	assert.Equal(t, DefaultRetryThreshold+1, maxRetries, "backs off until the threshold, then replans")
}

func TestReplanOnBlockWaitsInCorridor(t *testing.T) {
	w := newWorld(t, 6, 1)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	goal := grid.Position{X: 5, Y: 0}
	a.SetDestination(goal, w.res)

	require.True(t, w.tickUntil(50, func() bool { return isFollowing(a) }))
	blocked := grid.Position{X: 2, Y: 0}
	require.NoError(t, w.table.OnEnter(blocked, 99))

	for i := 0; i < 80; i++ {
		w.tick()
		require.NotEqual(t, blocked, a.Position)
		require.False(t, a.HasArrived())
	}

	w.table.OnExit(99)
	require.True(t, w.tickUntil(300, a.HasArrived))
	assert.Equal(t, goal, a.Position)
}

func TestIdempotentArrival(t *testing.T) {
	w := newWorld(t, 4, 4)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	a.SetDestination(grid.Position{X: 3, Y: 3}, w.res)
	require.True(t, w.tickUntil(200, a.HasArrived))
	w.out.Drain()

	pos := a.Position
	for i := 0; i < 20; i++ {
		w.tick()
		assert.Equal(t, Idle{}, a.State)
		assert.Equal(t, pos, a.Position)
		assert.True(t, a.HasArrived())
	}
	assert.Zero(t, w.out.Len(), "an idle agent emits nothing")
}

func TestArrivedWhenAlreadyThere(t *testing.T) {
	w := newWorld(t, 3, 3)
	a := w.spawn(1, grid.Position{X: 1, Y: 1})
	a.SetDestination(a.Position, w.res)
	require.True(t, w.tickUntil(10, a.HasArrived))
	assert.Equal(t, grid.Position{X: 1, Y: 1}, a.Position)
}

func TestOccupancyFollowsAgents(t *testing.T) {
	w := newWorld(t, 10, 10, grid.Position{X: 4, Y: 4}, grid.Position{X: 4, Y: 5}, grid.Position{X: 5, Y: 4})
	r := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 6; i++ {
		w.spawn(occupancy.AgentID(i+1), grid.Position{X: i, Y: 0})
	}
	pick := func() grid.Position {
		for {
			p := grid.Position{X: r.IntN(10), Y: r.IntN(10)}
			if tile, _ := w.ix.Lookup(p); tile.IsValidDestination() {
				return p
			}
		}
	}

	for tick := 0; tick < 400; tick++ {
		for _, a := range w.agents {
			if a.HasArrived() {
				a.SetDestination(pick(), w.res)
			}
		}
		w.tick()
		require.Equal(t, len(w.agents), w.table.Len())
		for _, a := range w.agents {
			cell, ok := w.table.CellOf(a.ID)
			require.True(t, ok)
			require.Equal(t, a.Position, cell, "tick %d agent %d", tick, a.ID)
			owner, _ := w.table.Occupant(a.Position)
			require.Equal(t, a.ID, owner)
		}
	}
}

func TestContendedTileHasOneWinnerPerTick(t *testing.T) {
	w := newWorld(t, 11, 11)
	target := grid.Position{X: 5, Y: 5}
	for i, p := range target.Around() {
		a := w.spawn(occupancy.AgentID(i+1), p)
		a.SetDestination(target, w.res)
	}

	require.True(t, w.tickUntil(10, func() bool {
		for _, a := range w.agents {
			if !isFollowing(a) {
				return false
			}
		}
		return true
	}))
	w.out.Drain()

	w.tick()
	inFlight := 0
	for _, a := range w.agents {
		f := a.State.(*Following)
		if f.Phase == StepInFlight {
			inFlight++
			continue
		}
		assert.Equal(t, 1, f.Retries, "agent %d backs off", a.ID)
	}
	assert.Equal(t, 1, inFlight)

	for tick := 0; tick < 40; tick++ {
		starts := 0
		for _, n := range w.out.Drain() {
			if n.Kind == SignalStepStarted && n.Cell == target {
				starts++
			}
		}
		assert.LessOrEqual(t, starts, 1, "tick %d", tick)

		onTarget := 0
		for _, a := range w.agents {
			if a.Position == target {
				onTarget++
			}
		}
		assert.Equal(t, 1, onTarget)
		w.tick()
	}
}

func TestCancelMidFlight(t *testing.T) {
	w := newWorld(t, 4, 1)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	a.SetDestination(grid.Position{X: 3, Y: 0}, w.res)
	require.True(t, w.tickUntil(50, func() bool {
		f, ok := a.State.(*Following)
		return ok && f.Phase == StepInFlight
	}))
	cell := a.Position
	h, _ := w.ix.Handle(cell)

	a.ClearDestination(w.res)
	assert.True(t, a.HasArrived())
	_, claimed := w.res.ClaimedBy(h)
	assert.False(t, claimed, "the claim is released")
	held, _ := w.table.CellOf(a.ID)
	assert.Equal(t, cell, held, "the marker stays on the logical cell")
	w.out.Drain()

	for i := 0; i < 10; i++ {
		w.tick()
	}
	assert.Equal(t, Idle{}, a.State)
	assert.Equal(t, cell, a.Position)
	assert.Equal(t, grid.ToWorld(cell, testTile), a.Motion.Pos, "motion still lands on the cell")
	assert.Zero(t, w.out.Len())
}

func TestRetargetMidFlightLandsFirst(t *testing.T) {
	w := newWorld(t, 6, 1)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	a.SetDestination(grid.Position{X: 5, Y: 0}, w.res)
	require.True(t, w.tickUntil(50, func() bool {
		f, ok := a.State.(*Following)
		return ok && f.Phase == StepInFlight
	}))
	require.True(t, a.Motion.Moving())

	a.SetDestination(grid.Position{X: 4, Y: 0}, w.res)
	for i := 0; i < 300 && !a.HasArrived(); i++ {
		before := a.Position
		w.tick()
		if a.Position != before {
			assert.True(t, before.IsAdjacent(a.Position))
			assert.Equal(t, grid.ToWorld(before, testTile), a.Motion.Pos, "claimed %v before landing on %v", a.Position, before)
		}
	}
	assert.True(t, a.HasArrived())
	assert.Equal(t, grid.Position{X: 4, Y: 0}, a.Position)
}

func TestRetargetWhileSearching(t *testing.T) {
	w := newWorld(t, 8, 8)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	a.SetDestination(grid.Position{X: 7, Y: 7}, w.res)
	w.tick()
	w.tick()
	_, searching := a.State.(*Searching)
	require.True(t, searching)

	a.SetDestination(grid.Position{X: 0, Y: 3}, w.res)
	assert.Equal(t, Idle{}, a.State)
	require.True(t, w.tickUntil(200, a.HasArrived))
	assert.Equal(t, grid.Position{X: 0, Y: 3}, a.Position)
}

func TestUnresolvablePathCellPanics(t *testing.T) {
	w := newWorld(t, 3, 1)
	a := w.spawn(1, grid.Position{X: 0, Y: 0})
	a.SetDestination(grid.Position{X: 2, Y: 0}, w.res)
	a.State = &Following{Path: []grid.Position{{X: 40, Y: 40}}}

	assert.Panics(t, func() { a.Advance(w.env) })
}

func TestMotionUpdate(t *testing.T) {
	m := NewMotion(grid.Vec2{X: 8, Y: 8}, 10)
	assert.False(t, m.Update(1), "resting motion never arrives")

	m.Start(grid.Vec2{X: 8, Y: 28})
	assert.True(t, m.Moving())
	assert.False(t, m.Update(1))
	assert.InDelta(t, 18, m.Pos.Y, 1e-9)
	assert.True(t, m.Update(1.5))
	assert.Equal(t, grid.Vec2{X: 8, Y: 28}, m.Pos)
	assert.False(t, m.Moving())
}
