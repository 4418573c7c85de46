// Package repair reacts to task delays: it selects a local fix under the
// trial's policy and mechanism, applies it transactionally to the timetable
// and temporal network, and reports infeasibility upward when no fix exists.
package repair

import (
	"github.com/google/uuid"

	"github.com/elektrokombinacija/mrta-research/internal/core"
)

// EventKind distinguishes delays that already happened from delays a monitor
// expects to happen.
type EventKind int

const (
	Observed  EventKind = iota // Actual finish/start deviated from plan
	Predicted                  // Deviation expected before it materializes
)

func (k EventKind) String() string {
	return [...]string{"observed", "predicted"}[k]
}

// DelayEvent reports that a task on a robot runs late by Delta seconds.
// Events are transient: consumed by one repair cycle and not retained.
type DelayEvent struct {
	Task  core.TaskID
	Robot core.RobotID
	Delta float64
	Kind  EventKind
}

// State is the engine's position in its repair cycle.
type State int

const (
	Monitoring State = iota
	Deciding
	Applying
	Committed
	RolledBack
)

func (s State) String() string {
	return [...]string{"monitoring", "deciding", "applying", "committed", "rolled-back"}[s]
}

// Decision is the outcome of one repair cycle. It is created per delay event,
// applied atomically, and then discarded.
type Decision struct {
	Attempt   uuid.UUID
	Policy    core.Policy
	Mechanism core.Mechanism
	Feasible  bool
	Escalated bool // Preempt fell back to re-allocate
	NoOp      bool // Event outside the policy's scope; nothing to do
}
