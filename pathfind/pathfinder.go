// Package pathfind implements an incremental A* search over the 8-connected
// grid. A Pathfinder is stepped one expansion at a time so many searches can
// share a tick budget.
package pathfind

import (
	"container/heap"

	"officesim/grid"
)

// DefaultMaxDepth is the expansion ceiling used when none is configured
const DefaultMaxDepth = 2000

// Status of a search
type Status int

const (
	Searching Status = iota
	Finished
)

func (s Status) String() string {
	if s == Finished {
		return "finished"
	}
	return "searching"
}

// Node is one search node. Parent indexes the closed list; the start node has
// Parent -1.
type Node struct {
	Pos    grid.Position
	G      float64
	H      float64
	F      float64
	Parent int
}

// Pathfinder is a single in-flight path request
type Pathfinder struct {
	start    grid.Position
	goal     grid.Position
	maxDepth int
	depth    int

	open     openQueue
	openAt   map[grid.Position]*openItem
	seq      int
	closed   []Node
	closedAt map[grid.Position]int

	// best non-start node seen so far, by heuristic
	best    Node
	hasBest bool

	status  Status
	path    []grid.Position
	partial bool
	taken   bool
}

// Option configures a Pathfinder
type Option func(*Pathfinder)

// WithMaxDepth sets the expansion ceiling. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(pf *Pathfinder) {
		if n > 0 {
			pf.maxDepth = n
		}
	}
}

// New seeds a search from start towards goal
func New(start, goal grid.Position, opts ...Option) *Pathfinder {
	pf := &Pathfinder{
		start:    start,
		goal:     goal,
		maxDepth: DefaultMaxDepth,
		openAt:   make(map[grid.Position]*openItem),
		closedAt: make(map[grid.Position]int),
		status:   Searching,
	}
	for _, opt := range opts {
		opt(pf)
	}
	h := grid.Distance(start, goal)
	pf.push(Node{Pos: start, G: 0, H: h, F: h, Parent: -1})
	return pf
}

func (pf *Pathfinder) push(n Node) {
	item := &openItem{node: n, seq: pf.seq}
	pf.seq++
	heap.Push(&pf.open, item)
	pf.openAt[n.Pos] = item
}

// Step performs exactly one expansion. Cells in occupied are treated as
// obstacles for this expansion only.
func (pf *Pathfinder) Step(ix *grid.Index, occupied grid.PositionSet) Status {
	if pf.status == Finished {
		return Finished
	}

	if pf.open.Len() == 0 {
		pf.finish(nil, false)
		return Finished
	}
	item := heap.Pop(&pf.open).(*openItem)
	delete(pf.openAt, item.node.Pos)
	current := item.node

	if current.Pos == pf.goal {
		pf.finish(pf.trace(current), false)
		return Finished
	}

	pf.consider(current)
	if pf.depth >= pf.maxDepth {
		var path []grid.Position
		if pf.hasBest {
			path = pf.trace(pf.best)
		}
		pf.finish(path, true)
		return Finished
	}
	pf.depth++

	idx := len(pf.closed)
	pf.closed = append(pf.closed, current)
	pf.closedAt[current.Pos] = idx

	from, ok := ix.Lookup(current.Pos)
	if !ok {
		return Searching
	}
	for pos, tile := range ix.Neighbors8(current.Pos) {
		if occupied.Has(pos) {
			continue
		}
		if !from.IsTraversableTo(tile) {
			continue
		}
		if _, done := pf.closedAt[pos]; done {
			continue
		}
		g := current.G + grid.Distance(current.Pos, pos)
		if open, ok := pf.openAt[pos]; ok {
			if g < open.node.G {
				open.node.G = g
				open.node.F = g + open.node.H
				open.node.Parent = idx
				heap.Fix(&pf.open, open.index)
			}
			continue
		}
		h := grid.Distance(pos, pf.goal)
		pf.push(Node{Pos: pos, G: g, H: h, F: g + h, Parent: idx})
	}
	return Searching
}

// consider records n as the best partial target when it is closer to the
// goal than anything seen before. Ties prefer the cheaper node.
func (pf *Pathfinder) consider(n Node) {
	if n.Parent < 0 {
		return
	}
	if !pf.hasBest || n.H < pf.best.H || (n.H == pf.best.H && n.G < pf.best.G) {
		pf.best = n
		pf.hasBest = true
	}
}

// trace walks parent links back to the start. The result runs start to n,
// excluding the start cell.
func (pf *Pathfinder) trace(n Node) []grid.Position {
	var rev []grid.Position
	for n.Parent >= 0 {
		rev = append(rev, n.Pos)
		n = pf.closed[n.Parent]
	}
	path := make([]grid.Position, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path
}

func (pf *Pathfinder) finish(path []grid.Position, partial bool) {
	pf.status = Finished
	pf.path = path
	pf.partial = partial
	clear(pf.openAt)
	pf.open = nil
}

// PathIfFinished hands out the result once the search has finished. The path
// is consumed: later calls report false.
func (pf *Pathfinder) PathIfFinished() ([]grid.Position, bool) {
	if pf.status != Finished || pf.taken {
		return nil, false
	}
	pf.taken = true
	path := pf.path
	pf.path = nil
	return path, true
}

func (pf *Pathfinder) Status() Status      { return pf.status }
func (pf *Pathfinder) Start() grid.Position { return pf.start }
func (pf *Pathfinder) Goal() grid.Position  { return pf.goal }

// Depth returns the number of expansions performed
func (pf *Pathfinder) Depth() int { return pf.depth }

// Partial reports whether the search was cut off by the depth ceiling
func (pf *Pathfinder) Partial() bool { return pf.partial }

// Frontier returns the position of the most promising open node
func (pf *Pathfinder) Frontier() (grid.Position, bool) {
	if pf.open.Len() == 0 {
		return grid.Position{}, false
	}
	return pf.open[0].node.Pos, true
}

// Closed returns a copy of the expanded nodes in expansion order
func (pf *Pathfinder) Closed() []Node {
	out := make([]Node, len(pf.closed))
	copy(out, pf.closed)
	return out
}
