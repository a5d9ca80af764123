// Package shared contains the wire types exchanged between the simulation
// server, the behavior clients and the viewers. Every type carries json and
// msgpack tags so it can travel over gRPC (as a Struct), WebSocket text frames
// and WebSocket binary frames alike.
package shared

import "officesim/grid"

// Position represents a 2D coordinate on the grid
type Position = grid.Position

// AgentState represents the current state of an agent. Frontier is the most
// promising open cell while the agent is searching.
type AgentState struct {
	ID          int       `json:"id" msgpack:"id"`
	Position    Position  `json:"position" msgpack:"position"`
	World       grid.Vec2 `json:"world" msgpack:"world"`
	Status      string    `json:"status" msgpack:"status"`
	Destination *Position `json:"destination,omitempty" msgpack:"destination,omitempty"`
	Retries     int       `json:"retries" msgpack:"retries"`
	PathLeft    int       `json:"path_left" msgpack:"path_left"`
	Indoors     bool      `json:"indoors" msgpack:"indoors"`
	Frontier    *Position `json:"frontier,omitempty" msgpack:"frontier,omitempty"`
}

// Arrived reports an idle agent with no pending walk
func (a AgentState) Arrived() bool {
	return a.Status == "idle" && a.Destination == nil
}

// GridState represents the current state of the simulation grid.
// Origin is the bottom-left cell of the bounding box; coordinates may be
// negative. Rows holds one glyph per cell, top row first: Rows[0] is
// y = Origin.Y+Height-1 and column 0 is x = Origin.X. TileSize is the world
// size of one cell, for mapping AgentState.World back to cells.
type GridState struct {
	RunID    string       `json:"run_id" msgpack:"run_id"`
	Tick     int64        `json:"tick" msgpack:"tick"`
	Origin   Position     `json:"origin" msgpack:"origin"`
	TileSize float64      `json:"tile_size" msgpack:"tile_size"`
	Width    int          `json:"width" msgpack:"width"`
	Height   int          `json:"height" msgpack:"height"`
	Rows     []string     `json:"rows" msgpack:"rows"`
	Agents   []AgentState `json:"agents" msgpack:"agents"`
}

// Cell maps p to its row and column in Rows
func (g GridState) Cell(p Position) (row, col int, ok bool) {
	row = g.Origin.Y + g.Height - 1 - p.Y
	col = p.X - g.Origin.X
	ok = row >= 0 && row < len(g.Rows) && col >= 0 && col < len(g.Rows[row])
	return row, col, ok
}

// VisualCell is the cell an agent currently appears in: its logical cell
// while at rest, the cell it is passing through while a step is in flight.
func (g GridState) VisualCell(a AgentState) Position {
	if g.TileSize <= 0 {
		return a.Position
	}
	return grid.FromWorld(a.World, g.TileSize)
}

// GlyphAt returns the tile glyph at p, or ' ' outside the grid
func (g GridState) GlyphAt(p Position) byte {
	row, col, ok := g.Cell(p)
	if !ok {
		return ' '
	}
	return g.Rows[row][col]
}

// Signal is a notification emitted during a tick: a status change
// (searching, following, arrived), a cell ownership change (occupied,
// vacated) or a motion event (step_started, step_completed).
type Signal struct {
	Tick    int64     `json:"tick" msgpack:"tick"`
	Type    string    `json:"type" msgpack:"type"`
	AgentID int       `json:"agent_id" msgpack:"agent_id"`
	Cell    Position  `json:"cell" msgpack:"cell"`
	World   grid.Vec2 `json:"world" msgpack:"world"`
}

// TickFrame is what viewers receive once per tick
type TickFrame struct {
	Tick    int64     `json:"tick" msgpack:"tick"`
	State   GridState `json:"state" msgpack:"state"`
	Signals []Signal  `json:"signals" msgpack:"signals"`
}

// CommandType names an inbound command
type CommandType string

const (
	CommandSetDestination   CommandType = "set_destination"
	CommandClearDestination CommandType = "clear_destination"
)

// Command is a walk request sent by a client
type Command struct {
	Type    CommandType `json:"type" msgpack:"type"`
	AgentID int         `json:"agent_id" msgpack:"agent_id"`
	X       int         `json:"x" msgpack:"x"`
	Y       int         `json:"y" msgpack:"y"`
}
