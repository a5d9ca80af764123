// Package occupancy tracks which agent owns which cell, and arbitrates
// same-tick contention for free cells.
package occupancy

import (
	"errors"
	"fmt"
	"sort"

	"officesim/grid"
)

// AgentID identifies an agent in the simulation
type AgentID int32

var ErrOccupied = errors.New("cell is occupied")

// Table holds the occupancy markers: one owning agent per occupied cell and
// at most one cell per agent.
type Table struct {
	occupant map[grid.Position]AgentID
	cellOf   map[AgentID]grid.Position
}

// NewTable creates an empty occupancy table
func NewTable() *Table {
	return &Table{
		occupant: make(map[grid.Position]AgentID),
		cellOf:   make(map[AgentID]grid.Position),
	}
}

// IsOccupied checks if a marker is present on p
func (t *Table) IsOccupied(p grid.Position) bool {
	_, ok := t.occupant[p]
	return ok
}

// Occupant returns the agent holding p
func (t *Table) Occupant(p grid.Position) (AgentID, bool) {
	id, ok := t.occupant[p]
	return id, ok
}

// CellOf returns the cell currently held by agent
func (t *Table) CellOf(agent AgentID) (grid.Position, bool) {
	p, ok := t.cellOf[agent]
	return p, ok
}

// OnEnter attaches agent's marker to p. The agent's previous marker, if any,
// is removed in the same call so an agent never holds two cells.
func (t *Table) OnEnter(p grid.Position, agent AgentID) error {
	if owner, ok := t.occupant[p]; ok && owner != agent {
		return fmt.Errorf("enter %v by agent %d (held by %d): %w", p, agent, owner, ErrOccupied)
	}
	if prev, ok := t.cellOf[agent]; ok && prev != p {
		delete(t.occupant, prev)
	}
	t.occupant[p] = agent
	t.cellOf[agent] = p
	return nil
}

// OnExit removes agent's marker, wherever it is
func (t *Table) OnExit(agent AgentID) {
	p, ok := t.cellOf[agent]
	if !ok {
		return
	}
	delete(t.occupant, p)
	delete(t.cellOf, agent)
}

// Snapshot returns the set of occupied cells. It is the dynamic obstacle set
// handed to every search stepped during one tick.
func (t *Table) Snapshot() grid.PositionSet {
	s := make(grid.PositionSet, len(t.occupant))
	for p := range t.occupant {
		s.Add(p)
	}
	return s
}

// Len returns the number of occupied cells
func (t *Table) Len() int { return len(t.occupant) }

// Agents returns the ids of all agents holding a cell, ascending
func (t *Table) Agents() []AgentID {
	ids := make([]AgentID, 0, len(t.cellOf))
	for id := range t.cellOf {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
