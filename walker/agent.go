package walker

import (
	"fmt"
	"log/slog"

	"officesim/grid"
	"officesim/occupancy"
	"officesim/pathfind"
)

// DefaultRetryThreshold is the number of blocked attempts tolerated before
// the current path is abandoned
const DefaultRetryThreshold = 10

// Env is everything one tick pass shares between agents
type Env struct {
	Index        *grid.Index
	Reservations *occupancy.Reservations
	// Occupied is the dynamic obstacle snapshot taken at the start of the tick
	Occupied       grid.PositionSet
	RetryThreshold int
	MaxDepth       int
	TileSize       float64
	Out            *Outbox
	Log            *slog.Logger
}

func (env *Env) emit(kind Kind, agent occupancy.AgentID, cell grid.Position) {
	if env.Out == nil {
		return
	}
	env.Out.Push(Notification{
		Kind:  kind,
		Agent: agent,
		Cell:  cell,
		World: grid.ToWorld(cell, env.TileSize),
	})
}

func (env *Env) logger() *slog.Logger {
	if env.Log != nil {
		return env.Log
	}
	return slog.Default()
}

// Agent is a walking entity. Position is its logical cell, the one holding
// its occupancy marker; Motion carries the interpolated world position.
type Agent struct {
	ID       occupancy.AgentID
	Position grid.Position
	State    PathState
	Motion   Motion

	dest    grid.Position
	hasDest bool
}

// NewAgent creates an idle agent resting on p
func NewAgent(id occupancy.AgentID, p grid.Position, tileSize, speed float64) *Agent {
	return &Agent{
		ID:       id,
		Position: p,
		State:    Idle{},
		Motion:   NewMotion(grid.ToWorld(p, tileSize), speed),
	}
}

// Destination returns the pending walk target
func (a *Agent) Destination() (grid.Position, bool) {
	return a.dest, a.hasDest
}

// HasArrived reports that the agent is idle with nothing left to walk to
func (a *Agent) HasArrived() bool {
	_, idle := a.state().(Idle)
	return idle && !a.hasDest
}

func (a *Agent) state() PathState {
	if a.State == nil {
		return Idle{}
	}
	return a.State
}

// SetDestination discards any search or path in progress and requests a
// walk to p. res may be nil when no tick is running.
func (a *Agent) SetDestination(p grid.Position, res *occupancy.Reservations) {
	a.cancel(res)
	a.dest = p
	a.hasDest = true
}

// ClearDestination cancels the walk. A step already in flight finishes its
// motion but no longer advances the state.
func (a *Agent) ClearDestination(res *occupancy.Reservations) {
	a.cancel(res)
	a.hasDest = false
}

func (a *Agent) cancel(res *occupancy.Reservations) {
	a.State = Idle{}
	if res != nil {
		res.Release(a.ID)
	}
}

// Update runs one tick for the agent: the motion first, so a completed step
// can be followed by a claim on the next cell in the same tick.
func (a *Agent) Update(env *Env, dt float64) {
	if a.Motion.Update(dt) {
		a.CompleteStep(env)
	}
	a.Advance(env)
}

// Advance evaluates the path state machine once
func (a *Agent) Advance(env *Env) {
	switch s := a.state().(type) {
	case Idle:
		if a.hasDest {
			a.startSearch(env)
		}
	case *Searching:
		s.Finder.Step(env.Index, env.Occupied)
		path, ok := s.Finder.PathIfFinished()
		if !ok {
			return
		}
		a.State = &Following{Path: path}
		env.emit(SignalFollowing, a.ID, a.Position)
		env.logger().Debug("path found",
			"agent", a.ID, "from", a.Position, "to", a.dest,
			"length", len(path), "partial", s.Finder.Partial(), "depth", s.Finder.Depth())
	case *Following:
		// a step left over from a cancelled walk has to land before the next claim
		if s.Phase == WaitingNextStep && !a.Motion.Moving() {
			a.follow(s, env)
		}
	}
}

func (a *Agent) startSearch(env *Env) {
	var opts []pathfind.Option
	if env.MaxDepth > 0 {
		opts = append(opts, pathfind.WithMaxDepth(env.MaxDepth))
	}
	a.State = &Searching{Finder: pathfind.New(a.Position, a.dest, opts...)}
	env.emit(SignalSearching, a.ID, a.Position)
}

func (a *Agent) follow(s *Following, env *Env) {
	threshold := env.RetryThreshold
	if threshold <= 0 {
		threshold = DefaultRetryThreshold
	}
	if s.Retries > threshold {
		env.logger().Debug("path blocked, replanning", "agent", a.ID, "at", a.Position, "retries", s.Retries)
		a.startSearch(env)
		return
	}

	if s.Cursor >= len(s.Path) {
		if a.Position == a.dest {
			a.State = Idle{}
			a.hasDest = false
			env.emit(SignalArrived, a.ID, a.Position)
			return
		}
		// partial or failed search: go again from here
		a.startSearch(env)
		return
	}

	next := s.Path[s.Cursor]
	h, ok := env.Index.Handle(next)
	if !ok {
		panic(fmt.Sprintf("walker: agent %d path cell %v has no tile in the index", a.ID, next))
	}
	if env.Reservations.TryClaim(a.ID, next, h) != occupancy.ClaimGranted {
		s.Retries++
		return
	}

	prev := a.Position
	a.Position = next
	s.Phase = StepInFlight
	env.emit(SignalVacated, a.ID, prev)
	env.emit(SignalOccupied, a.ID, next)
	env.emit(SignalStepStarted, a.ID, next)
	a.Motion.Start(grid.ToWorld(next, env.TileSize))
}

// CompleteStep is called when the motion reaches the claimed cell
func (a *Agent) CompleteStep(env *Env) {
	s, ok := a.state().(*Following)
	if !ok || s.Phase != StepInFlight {
		return
	}
	s.Cursor++
	s.Retries = 0
	s.Phase = WaitingNextStep
	env.emit(SignalStepCompleted, a.ID, a.Position)
}
