package walker

import (
	"math"

	"officesim/grid"
)

// Motion moves an agent's world position towards a target at constant speed
type Motion struct {
	Pos    grid.Vec2
	Target grid.Vec2
	Speed  float64 // world units per second
	moving bool
}

// NewMotion places a resting agent at pos
func NewMotion(pos grid.Vec2, speed float64) Motion {
	return Motion{Pos: pos, Target: pos, Speed: speed}
}

// Start heads towards target from the current position
func (m *Motion) Start(target grid.Vec2) {
	m.Target = target
	m.moving = true
}

func (m *Motion) Moving() bool { return m.moving }

// Update advances by dt seconds and reports whether the target was reached
// during this update.
func (m *Motion) Update(dt float64) bool {
	if !m.moving {
		return false
	}
	dx := m.Target.X - m.Pos.X
	dy := m.Target.Y - m.Pos.Y
	dist := math.Hypot(dx, dy)
	step := m.Speed * dt
	if dist <= step {
		m.Pos = m.Target
		m.moving = false
		return true
	}
	m.Pos.X += dx / dist * step
	m.Pos.Y += dy / dist * step
	return false
}
