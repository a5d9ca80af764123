package sim

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"officesim/grid"
	"officesim/occupancy"
	"officesim/shared"
	"officesim/walker"
)

// Snapshot returns the current state of the grid
func (c *Core) Snapshot() shared.GridState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Core) snapshotLocked() shared.GridState {
	gs := shared.GridState{
		RunID:    c.runID,
		Tick:     c.tick,
		TileSize: c.opts.TileSize,
		Agents:   make([]shared.AgentState, 0, len(c.agents)),
	}
	if c.index.Len() > 0 {
		lo, hi := c.index.Bounds()
		gs.Origin = lo
		gs.Width, gs.Height = hi.X-lo.X+1, hi.Y-lo.Y+1
	}
	gs.Rows = make([]string, gs.Height)
	row := make([]byte, gs.Width)
	for i := range gs.Rows {
		y := gs.Origin.Y + gs.Height - 1 - i
		for col := range row {
			row[col] = ' '
			if tile, ok := c.index.Lookup(grid.Position{X: gs.Origin.X + col, Y: y}); ok {
				row[col] = tile.Glyph()
			}
		}
		gs.Rows[i] = string(row)
	}

	for _, id := range c.orderLocked() {
		gs.Agents = append(gs.Agents, c.agentStateLocked(c.agents[id]))
	}
	return gs
}

func (c *Core) agentStateLocked(a *walker.Agent) shared.AgentState {
	st := shared.AgentState{
		ID:       int(a.ID),
		Position: a.Position,
		World:    a.Motion.Pos,
		Status:   walker.Status(a.State),
	}
	if dest, ok := a.Destination(); ok {
		st.Destination = &dest
	}
	if tile, ok := c.index.Lookup(a.Position); ok {
		st.Indoors = tile.IsIndoor()
	}
	switch s := a.State.(type) {
	case *walker.Following:
		st.Retries = s.Retries
		st.PathLeft = len(s.Remaining())
	case *walker.Searching:
		if p, ok := s.Finder.Frontier(); ok {
			st.Frontier = &p
		}
	}
	return st
}

// Step runs one tick and returns everything a viewer needs about it
func (c *Core) Step(dt float64) shared.TickFrame {
	tick := c.Tick(dt)
	signals := Signals(tick, c.Drain())
	return shared.TickFrame{
		Tick:    tick,
		State:   c.Snapshot(),
		Signals: signals,
	}
}

// Signals converts drained notifications to their wire form
func Signals(tick int64, ns []walker.Notification) []shared.Signal {
	out := make([]shared.Signal, 0, len(ns))
	for _, n := range ns {
		out = append(out, shared.Signal{
			Tick:    tick,
			Type:    n.Kind.String(),
			AgentID: int(n.Agent),
			Cell:    n.Cell,
			World:   n.World,
		})
	}
	return out
}

// WriteState writes a plain-text dump of gs: a header, the map with agents
// drawn as '@', then one line per agent.
func WriteState(w io.Writer, gs shared.GridState) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "Tick %d (%s) - %s - Current Grid State & Agents:\n",
		gs.Tick, gs.RunID, time.Now().Format(time.RFC3339)); err != nil {
		return err
	}

	rows := make([][]byte, len(gs.Rows))
	for i, r := range gs.Rows {
		rows[i] = []byte(r)
	}
	for _, a := range gs.Agents {
		if row, col, ok := gs.Cell(a.Position); ok {
			rows[row][col] = '@'
		}
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(bw, strings.TrimRight(string(r), " ")); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintln(bw, "\nAgents:"); err != nil {
		return err
	}
	for _, a := range gs.Agents {
		dest := "--"
		if a.Destination != nil {
			dest = a.Destination.String()
		}
		if _, err := fmt.Fprintf(bw, "Agent %d: %v -> %s %s (retries %d, %d steps left)\n",
			a.ID, a.Position, dest, a.Status, a.Retries, a.PathLeft); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// StateFile keeps the latest state dump on disk, rewritten in place each tick
type StateFile struct {
	file *os.File
}

// OpenStateFile creates or truncates the dump file at path
func OpenStateFile(path string) (*StateFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file %s: %w", path, err)
	}
	return &StateFile{file: f}, nil
}

// Write replaces the file contents with a dump of gs
func (s *StateFile) Write(gs shared.GridState) error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek state file: %w", err)
	}
	if err := s.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate state file: %w", err)
	}
	if err := WriteState(s.file, gs); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return s.file.Sync()
}

func (s *StateFile) Name() string { return s.file.Name() }

func (s *StateFile) Close() error { return s.file.Close() }

// AgentID converts a wire id. Ids that do not fit an AgentID cannot name any
// agent and are reported as ErrAgentNotFound.
func AgentID(id int) (occupancy.AgentID, error) {
	if id < math.MinInt32 || id > math.MaxInt32 {
		return 0, fmt.Errorf("agent %d: %w", id, ErrAgentNotFound)
	}
	return occupancy.AgentID(id), nil
}
