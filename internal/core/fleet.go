package core

import "fmt"

// Fleet is one trial's problem instance: robots, tasks, and the opaque travel
// function. Each fleet instance owns its timetable and temporal network
// exclusively for the lifetime of the trial.
type Fleet struct {
	Robots []*Robot
	Tasks  []*Task
	Travel TravelTimeFunc
}

// NewFleet creates an empty fleet with a zero travel function.
func NewFleet() *Fleet {
	return &Fleet{Travel: func(from, to LocationRef) float64 { return 0 }}
}

// RobotByID finds a robot by ID.
func (f *Fleet) RobotByID(id RobotID) *Robot {
	for _, r := range f.Robots {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// TaskByID finds a task by ID.
func (f *Fleet) TaskByID(id TaskID) *Task {
	for _, t := range f.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Validate checks instance consistency: well-formed windows, resolvable
// predecessor references, and an acyclic precedence chain.
func (f *Fleet) Validate() error {
	if f.Travel == nil {
		return fmt.Errorf("fleet has no travel function")
	}
	if len(f.Robots) == 0 {
		return fmt.Errorf("fleet has no robots")
	}
	seen := make(map[TaskID]bool, len(f.Tasks))
	for _, t := range f.Tasks {
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %d", t.ID)
		}
		seen[t.ID] = true
		if t.Duration < 0 {
			return fmt.Errorf("task %d has negative duration", t.ID)
		}
		if t.EarliestStart+t.Duration > t.LatestFinish {
			return fmt.Errorf("task %d window [%g, %g] cannot fit duration %g",
				t.ID, t.EarliestStart, t.LatestFinish, t.Duration)
		}
	}
	for _, t := range f.Tasks {
		if t.HasPredecessor() && !seen[t.Predecessor] {
			return fmt.Errorf("task %d references unknown predecessor %d", t.ID, t.Predecessor)
		}
	}
	// Walk each precedence chain; a chain longer than the task count is a cycle.
	for _, t := range f.Tasks {
		hops := 0
		for cur := t; cur.HasPredecessor(); cur = f.TaskByID(cur.Predecessor) {
			hops++
			if hops > len(f.Tasks) {
				return fmt.Errorf("precedence cycle through task %d", t.ID)
			}
		}
	}
	return nil
}
