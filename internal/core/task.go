package core

// TaskID is a unique task identifier.
type TaskID int

// NoTask marks the absence of a task reference.
const NoTask TaskID = -1

// LocationRef is an opaque handle to a location. The engine never interprets
// it; it only feeds pairs of refs to a TravelTimeFunc.
type LocationRef int

// TravelTimeFunc returns the travel duration in seconds between two
// locations. Supplied by the external map/planner.
type TravelTimeFunc func(from, to LocationRef) float64

// Task represents one unit of spatially and temporally constrained work.
// The fields here are immutable once the task is created; only its scheduled
// start/finish, held in the timetable, change.
type Task struct {
	ID            TaskID
	EarliestStart float64 // Window lower bound (seconds from zero timepoint)
	LatestFinish  float64 // Window upper bound
	Duration      float64 // Fixed nominal duration (seconds)
	DurationStd   float64 // Std dev of the actual duration, for stochastic execution
	Location      LocationRef
	Predecessor   TaskID // Same-robot precedence chain; NoTask if none
}

// HasPredecessor reports whether the task is chained after another task.
func (t *Task) HasPredecessor() bool {
	return t.Predecessor != NoTask
}

// Window returns the width of the task's feasibility window.
func (t *Task) Window() float64 {
	return t.LatestFinish - t.EarliestStart
}

// NewTask creates a task with an open precedence chain.
func NewTask(id TaskID, earliestStart, latestFinish, duration float64, loc LocationRef) *Task {
	return &Task{
		ID:            id,
		EarliestStart: earliestStart,
		LatestFinish:  latestFinish,
		Duration:      duration,
		Location:      loc,
		Predecessor:   NoTask,
	}
}
