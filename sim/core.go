// Package sim runs the tick pass over every agent and is the boundary the
// behavior layer, the transports and the viewers talk to.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"officesim/grid"
	"officesim/occupancy"
	"officesim/pathfind"
	"officesim/walker"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrNoFreeTile         = errors.New("no free tile available")
	ErrInvalidDestination = errors.New("invalid destination")
)

// randomAttempts bounds random probing before falling back to a full scan
const randomAttempts = 100

// Options tunes the core
type Options struct {
	MaxDepth       int
	RetryThreshold int
	TileSize       float64
	MoveSpeed      float64
	// ShuffleOrder randomizes agent processing order every tick
	ShuffleOrder bool
	Rand         *rand.Rand
	Logger       *slog.Logger
}

// DefaultOptions returns the tuning used by the server when no config is given
func DefaultOptions() Options {
	return Options{
		MaxDepth:       pathfind.DefaultMaxDepth,
		RetryThreshold: walker.DefaultRetryThreshold,
		TileSize:       16,
		MoveSpeed:      75,
	}
}

// Core owns the world: the spatial index, the occupancy table and every
// agent. All methods are safe for concurrent use; the tick pass itself is
// single-threaded under the core's lock.
type Core struct {
	mu     sync.RWMutex
	runID  string
	index  *grid.Index
	table  *occupancy.Table
	res    *occupancy.Reservations
	agents map[occupancy.AgentID]*walker.Agent
	nextID occupancy.AgentID
	tick   int64
	out    walker.Outbox
	opts   Options
	rng    *rand.Rand
	log    *slog.Logger
}

// New creates a core over ix. The index is sealed if it is not already.
func New(ix *grid.Index, opts Options) *Core {
	def := DefaultOptions()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.RetryThreshold <= 0 {
		opts.RetryThreshold = def.RetryThreshold
	}
	if opts.TileSize <= 0 {
		opts.TileSize = def.TileSize
	}
	if opts.MoveSpeed <= 0 {
		opts.MoveSpeed = def.MoveSpeed
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ix.Seal()

	table := occupancy.NewTable()
	c := &Core{
		runID:  uuid.NewString(),
		index:  ix,
		table:  table,
		res:    occupancy.NewReservations(table),
		agents: make(map[occupancy.AgentID]*walker.Agent),
		nextID: 1,
		opts:   opts,
		rng:    rng,
	}
	c.log = logger.With("run", c.runID)

	lo, hi := ix.Bounds()
	c.log.Info("simulation core initialized", "tiles", ix.Len(), "min", lo, "max", hi)
	return c
}

// RunID identifies this world instance
func (c *Core) RunID() string { return c.runID }

// Index returns the spatial index. It is read-only and safe to share.
func (c *Core) Index() *grid.Index {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index
}

// TickCount returns the number of completed ticks
func (c *Core) TickCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick
}

// SpawnAgent places a new agent on a random free outside tile
func (c *Core) SpawnAgent() (occupancy.AgentID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.findFree(func(t grid.Tile) bool { return t.IsOutside() && t.IsWalkable() })
	if err != nil {
		return 0, fmt.Errorf("spawn agent: %w", err)
	}
	return c.spawnLocked(p)
}

// SpawnAgentAt places a new agent on p
func (c *Core) SpawnAgentAt(p grid.Position) (occupancy.AgentID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tile, ok := c.index.Lookup(p)
	if !ok || !tile.IsWalkable() {
		return 0, fmt.Errorf("spawn agent at %v: %w", p, ErrInvalidDestination)
	}
	if c.table.IsOccupied(p) {
		return 0, fmt.Errorf("spawn agent at %v: %w", p, occupancy.ErrOccupied)
	}
	return c.spawnLocked(p)
}

func (c *Core) spawnLocked(p grid.Position) (occupancy.AgentID, error) {
	id := c.nextID
	if err := c.table.OnEnter(p, id); err != nil {
		return 0, err
	}
	c.nextID++
	c.agents[id] = walker.NewAgent(id, p, c.opts.TileSize, c.opts.MoveSpeed)
	c.log.Info("agent spawned", "agent", id, "position", p)
	return id, nil
}

// RemoveAgent takes an agent out of the world and frees its cell
func (c *Core) RemoveAgent(id occupancy.AgentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.agents[id]; !ok {
		return fmt.Errorf("remove agent %d: %w", id, ErrAgentNotFound)
	}
	c.res.Release(id)
	c.table.OnExit(id)
	delete(c.agents, id)
	c.log.Info("agent removed", "agent", id)
	return nil
}

// SetDestination requests a walk. Any search or path in progress is dropped.
func (c *Core) SetDestination(id occupancy.AgentID, p grid.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setDestinationLocked(id, p)
}

func (c *Core) setDestinationLocked(id occupancy.AgentID, p grid.Position) error {
	a, ok := c.agents[id]
	if !ok {
		return fmt.Errorf("set destination for agent %d: %w", id, ErrAgentNotFound)
	}
	tile, ok := c.index.Lookup(p)
	if !ok || !tile.IsValidDestination() {
		return fmt.Errorf("set destination %v for agent %d: %w", p, id, ErrInvalidDestination)
	}
	a.SetDestination(p, c.res)
	c.log.Debug("destination set", "agent", id, "from", a.Position, "to", p)
	return nil
}

// ClearDestination cancels the agent's walk
func (c *Core) ClearDestination(id occupancy.AgentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[id]
	if !ok {
		return fmt.Errorf("clear destination for agent %d: %w", id, ErrAgentNotFound)
	}
	a.ClearDestination(c.res)
	return nil
}

// HasArrived reports an idle agent without a pending destination
func (c *Core) HasArrived(id occupancy.AgentID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.agents[id]
	if !ok {
		return false, fmt.Errorf("agent %d: %w", id, ErrAgentNotFound)
	}
	return a.HasArrived(), nil
}

// Position returns the agent's current grid cell
func (c *Core) Position(id occupancy.AgentID) (grid.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.agents[id]
	if !ok {
		return grid.Position{}, fmt.Errorf("agent %d: %w", id, ErrAgentNotFound)
	}
	return a.Position, nil
}

// IsOccupied reports whether an occupancy marker sits on p
func (c *Core) IsOccupied(p grid.Position) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table.IsOccupied(p)
}

// Agents returns every agent id, ascending
func (c *Core) Agents() []occupancy.AgentID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.orderLocked()
}

func (c *Core) orderLocked() []occupancy.AgentID {
	ids := make([]occupancy.AgentID, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Tick advances the simulation by dt seconds and returns the new tick number.
// Agents are processed one at a time in ascending id order, or shuffled when
// ShuffleOrder is set, against an occupancy snapshot taken before the pass.
func (c *Core) Tick(dt float64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.res.BeginTick()
	env := &walker.Env{
		Index:          c.index,
		Reservations:   c.res,
		Occupied:       c.table.Snapshot(),
		RetryThreshold: c.opts.RetryThreshold,
		MaxDepth:       c.opts.MaxDepth,
		TileSize:       c.opts.TileSize,
		Out:            &c.out,
		Log:            c.log,
	}

	order := c.orderLocked()
	if c.opts.ShuffleOrder {
		// shuffle so that low ids do not always win contended tiles
		c.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	for _, id := range order {
		c.agents[id].Update(env, dt)
	}

	c.tick++
	return c.tick
}

// Drain returns the notifications queued since the last drain
func (c *Core) Drain() []walker.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Drain()
}

// RandomDestination picks a free cell an agent may walk to
func (c *Core) RandomDestination() (grid.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findFree(grid.Tile.IsValidDestination)
}

// findFree probes random cells first, then scans the whole index
func (c *Core) findFree(accept func(grid.Tile) bool) (grid.Position, error) {
	n := c.index.Len()
	if n == 0 {
		return grid.Position{}, ErrNoFreeTile
	}
	ok := func(p grid.Position) bool {
		tile, found := c.index.Lookup(p)
		return found && accept(tile) && !c.table.IsOccupied(p)
	}
	for attempts := 0; attempts < randomAttempts; attempts++ {
		p, _ := c.index.PositionOf(grid.TileHandle(c.rng.Intn(n)))
		if ok(p) {
			return p, nil
		}
	}
	for _, p := range c.index.Positions() {
		if ok(p) {
			return p, nil
		}
	}
	return grid.Position{}, ErrNoFreeTile
}

// Approach sends source towards a free cell next to target, choosing the
// neighbour closest to source. It returns true when source is already
// adjacent and nothing was requested.
func (c *Core) Approach(source, target occupancy.AgentID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.agents[source]
	if !ok {
		return false, fmt.Errorf("approach from agent %d: %w", source, ErrAgentNotFound)
	}
	dst, ok := c.agents[target]
	if !ok {
		return false, fmt.Errorf("approach agent %d: %w", target, ErrAgentNotFound)
	}
	if src.Position.IsAdjacent(dst.Position) {
		return true, nil
	}
	for _, p := range src.Position.OrderedNeighbors(dst.Position) {
		tile, found := c.index.Lookup(p)
		if !found || !tile.IsValidDestination() || c.table.IsOccupied(p) {
			continue
		}
		return false, c.setDestinationLocked(source, p)
	}
	return false, fmt.Errorf("approach agent %d: %w", target, ErrNoFreeTile)
}

// ReplaceWorld swaps the spatial index, typically after a level reload.
// Agents whose cell is still walkable stay put; the others are moved to a
// free outside tile or removed when none is left. Every walk is cancelled.
func (c *Core) ReplaceWorld(ix *grid.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix.Seal()
	c.index = ix
	c.res.BeginTick()

	moved, removed := 0, 0
	for _, id := range c.orderLocked() {
		a := c.agents[id]
		a.ClearDestination(c.res)
		if tile, ok := ix.Lookup(a.Position); ok && tile.IsWalkable() {
			continue
		}
		c.table.OnExit(id)
		p, err := c.findFree(func(t grid.Tile) bool { return t.IsOutside() && t.IsWalkable() })
		if err != nil {
			delete(c.agents, id)
			removed++
			continue
		}
		// cannot fail: findFree only returns unoccupied cells
		_ = c.table.OnEnter(p, id)
		c.agents[id] = walker.NewAgent(id, p, c.opts.TileSize, c.opts.MoveSpeed)
		moved++
	}
	c.log.Info("world replaced", "tiles", ix.Len(), "agents", len(c.agents), "moved", moved, "removed", removed)
}
