package walker

import (
	"officesim/grid"
	"officesim/occupancy"
)

// Kind of a notification emitted by the tick pass
type Kind int

const (
	// status signals
	SignalSearching Kind = iota
	SignalFollowing
	SignalArrived

	// cell ownership
	SignalOccupied
	SignalVacated

	// motion
	SignalStepStarted
	SignalStepCompleted
)

var kindNames = [...]string{
	SignalSearching:     "searching",
	SignalFollowing:     "following",
	SignalArrived:       "arrived",
	SignalOccupied:      "occupied",
	SignalVacated:       "vacated",
	SignalStepStarted:   "step_started",
	SignalStepCompleted: "step_completed",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Notification is one outbound event. World is the centre of Cell.
type Notification struct {
	Kind  Kind
	Agent occupancy.AgentID
	Cell  grid.Position
	World grid.Vec2
}

// Outbox queues notifications in emission order until the consumer drains it
type Outbox struct {
	items []Notification
}

func (o *Outbox) Push(n Notification) {
	o.items = append(o.items, n)
}

// Drain returns all queued notifications and empties the outbox
func (o *Outbox) Drain() []Notification {
	out := o.items
	o.items = nil
	return out
}

func (o *Outbox) Len() int { return len(o.items) }
