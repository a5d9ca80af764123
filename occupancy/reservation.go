package occupancy

import "officesim/grid"

// ClaimResult is the outcome of a reservation attempt
type ClaimResult int

const (
	ClaimGranted ClaimResult = iota
	// ClaimTaken: another agent claimed the tile earlier in this pass
	ClaimTaken
	// ClaimOccupied: an agent still holds the tile from a previous tick
	ClaimOccupied
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimGranted:
		return "granted"
	case ClaimTaken:
		return "taken"
	case ClaimOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Reservations implements the two-layer claim check: the per-tick claim set
// catches same-pass double booking, the occupancy table catches agents that
// already stand on the tile.
type Reservations struct {
	table   *Table
	claimed map[grid.TileHandle]AgentID
}

// NewReservations creates the claim protocol over an occupancy table
func NewReservations(table *Table) *Reservations {
	return &Reservations{
		table:   table,
		claimed: make(map[grid.TileHandle]AgentID),
	}
}

// Table returns the occupancy table the protocol mutates
func (r *Reservations) Table() *Table { return r.table }

// BeginTick clears the claim set. Called once before each tick pass.
func (r *Reservations) BeginTick() {
	clear(r.claimed)
}

// ClaimedBy returns the agent that claimed h during this pass
func (r *Reservations) ClaimedBy(h grid.TileHandle) (AgentID, bool) {
	id, ok := r.claimed[h]
	return id, ok
}

// Claims returns the number of tiles claimed during this pass
func (r *Reservations) Claims() int { return len(r.claimed) }

// TryClaim reserves the tile h at p for agent. On success the agent's marker
// moves to p and the tile it leaves is freed in the same call.
func (r *Reservations) TryClaim(agent AgentID, p grid.Position, h grid.TileHandle) ClaimResult {
	if owner, ok := r.claimed[h]; ok && owner != agent {
		return ClaimTaken
	}
	if owner, ok := r.table.Occupant(p); ok && owner != agent {
		return ClaimOccupied
	}
	r.claimed[h] = agent
	// cannot fail: the occupant check above passed
	_ = r.table.OnEnter(p, agent)
	return ClaimGranted
}

// Release drops every claim agent made during this pass. The agent's
// occupancy marker is left on its current cell.
func (r *Reservations) Release(agent AgentID) {
	for h, owner := range r.claimed {
		if owner == agent {
			delete(r.claimed, h)
		}
	}
}
