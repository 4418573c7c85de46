package core

// RobotID is a unique robot identifier. Robot IDs form a total order used by
// every tie-break rule in the engine.
type RobotID int

// Robot represents one member of the fleet. Its pose is an opaque location
// handle supplied by the external robot-pose provider.
type Robot struct {
	ID          RobotID
	Location    LocationRef // Initial position
	AvailableAt float64     // Release time (seconds from zero timepoint)
}

// NewRobot creates a robot available from time zero.
func NewRobot(id RobotID, loc LocationRef) *Robot {
	return &Robot{ID: id, Location: loc}
}
