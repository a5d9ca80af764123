// Package walker drives each agent along its path: it owns the per-agent
// path state, claims tiles through the reservation protocol and interpolates
// motion between cells.
package walker

import (
	"fmt"

	"officesim/grid"
	"officesim/pathfind"
)

// Phase distinguishes a following agent waiting to claim its next cell from
// one whose step is in flight.
type Phase int

const (
	WaitingNextStep Phase = iota
	StepInFlight
)

func (p Phase) String() string {
	if p == StepInFlight {
		return "in-flight"
	}
	return "waiting"
}

// PathState is one of Idle, *Searching or *Following
type PathState interface {
	pathState()
	String() string
}

// Idle: no search and no path
type Idle struct{}

// Searching holds the in-flight search
type Searching struct {
	Finder *pathfind.Pathfinder
}

// Following holds a found path. Cursor indexes the next cell to claim.
type Following struct {
	Path    []grid.Position
	Cursor  int
	Retries int
	Phase   Phase
}

func (Idle) pathState()       {}
func (*Searching) pathState() {}
func (*Following) pathState() {}

func (Idle) String() string { return "idle" }

func (s *Searching) String() string {
	return fmt.Sprintf("searching(depth=%d)", s.Finder.Depth())
}

func (f *Following) String() string {
	return fmt.Sprintf("following(%d/%d, retries=%d, %s)", f.Cursor, len(f.Path), f.Retries, f.Phase)
}

// Remaining returns the cells not yet claimed
func (f *Following) Remaining() []grid.Position {
	if f.Cursor >= len(f.Path) {
		return nil
	}
	return f.Path[f.Cursor:]
}

// Status is the coarse label shown to visualization: idle, searching or following
func Status(s PathState) string {
	switch s.(type) {
	case *Searching:
		return "searching"
	case *Following:
		return "following"
	default:
		return "idle"
	}
}
