// Package grid holds the static side of the world: integer cell coordinates,
// per-cell tile records and the spatial index that maps one to the other.
package grid

import (
	"fmt"
	"math"
)

// Position represents a 2D coordinate on the grid
type Position struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Add returns p translated by d
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y}
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

// IsAdjacent reports whether o is one of the eight cells surrounding p.
// A cell is not adjacent to itself.
func (p Position) IsAdjacent(o Position) bool {
	if p == o {
		return false
	}
	dx := p.X - o.X
	dy := p.Y - o.Y
	return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

// Distance is the Euclidean distance between two cells
func Distance(a, b Position) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// neighborOffsets lists the 8-neighbourhood in a fixed order so that
// expansion order, and therefore tie breaking, is deterministic.
var neighborOffsets = [...]Position{
	{X: -1, Y: -1}, {X: -1, Y: 0}, {X: -1, Y: 1},
	{X: 0, Y: -1}, {X: 0, Y: 1},
	{X: 1, Y: -1}, {X: 1, Y: 0}, {X: 1, Y: 1},
}

// Around returns the eight cells surrounding p, registered or not
func (p Position) Around() []Position {
	out := make([]Position, 0, len(neighborOffsets))
	for _, d := range neighborOffsets {
		out = append(out, p.Add(d))
	}
	return out
}

// OrderedNeighbors returns the cells around target sorted by their distance
// from p, nearest first. Used to pick an approach cell next to another agent.
func (p Position) OrderedNeighbors(target Position) []Position {
	around := target.Around()
	// insertion sort keeps equal distances in offset order
	for i := 1; i < len(around); i++ {
		for j := i; j > 0 && Distance(p, around[j]) < Distance(p, around[j-1]); j-- {
			around[j], around[j-1] = around[j-1], around[j]
		}
	}
	return around
}

// PositionSet is a set of cells, used for the per-tick dynamic obstacle snapshot
type PositionSet map[Position]struct{}

// Has reports whether p is in the set. A nil set is empty.
func (s PositionSet) Has(p Position) bool {
	_, ok := s[p]
	return ok
}

// Add inserts p
func (s PositionSet) Add(p Position) {
	s[p] = struct{}{}
}

// Vec2 is a point in continuous world space
type Vec2 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// ToWorld converts a cell to the world position of its centre
func ToWorld(p Position, tileSize float64) Vec2 {
	return Vec2{
		X: float64(p.X)*tileSize + tileSize/2,
		Y: float64(p.Y)*tileSize + tileSize/2,
	}
}

// FromWorld converts a world position to the cell containing it
func FromWorld(v Vec2, tileSize float64) Position {
	return Position{
		X: int(math.Floor(v.X / tileSize)),
		Y: int(math.Floor(v.Y / tileSize)),
	}
}
