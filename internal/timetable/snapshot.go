package timetable

import (
	"math"

	"github.com/elektrokombinacija/mrta-research/internal/core"
)

// Snapshot is a value copy of the timetable's assignment state. Restoring a
// snapshot together with rolling back the paired network transaction leaves
// the fleet instance exactly as it was.
type Snapshot struct {
	lines  map[core.RobotID][]Entry
	points map[core.TaskID]taskPoints
	owner  map[core.TaskID]core.RobotID
}

// Snapshot captures the current assignment state.
func (tt *Timetable) Snapshot() *Snapshot {
	s := &Snapshot{
		lines:  make(map[core.RobotID][]Entry, len(tt.lines)),
		points: make(map[core.TaskID]taskPoints, len(tt.points)),
		owner:  make(map[core.TaskID]core.RobotID, len(tt.owner)),
	}
	for rid, line := range tt.lines {
		entries := make([]Entry, len(line.entries))
		copy(entries, line.entries)
		s.lines[rid] = entries
	}
	for tid, p := range tt.points {
		s.points[tid] = p
	}
	for tid, rid := range tt.owner {
		s.owner[tid] = rid
	}
	return s
}

// Restore reverts the assignment state to a previously captured snapshot.
func (tt *Timetable) Restore(s *Snapshot) {
	for rid, entries := range s.lines {
		line := tt.lines[rid]
		line.entries = make([]Entry, len(entries))
		copy(line.entries, entries)
	}
	tt.points = make(map[core.TaskID]taskPoints, len(s.points))
	for tid, p := range s.points {
		tt.points[tid] = p
	}
	tt.owner = make(map[core.TaskID]core.RobotID, len(s.owner))
	for tid, rid := range s.owner {
		tt.owner[tid] = rid
	}
}

// Equal compares the committed schedules of two snapshots by value.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if len(s.lines) != len(o.lines) || len(s.owner) != len(o.owner) {
		return false
	}
	for rid, entries := range s.lines {
		other, ok := o.lines[rid]
		if !ok || len(other) != len(entries) {
			return false
		}
		for i := range entries {
			a, b := entries[i], other[i]
			if a.Task.ID != b.Task.ID || a.Start != b.Start || a.Finish != b.Finish || a.Status != b.Status {
				return false
			}
		}
	}
	return true
}

// Eval reports the outcome of a candidate insertion.
type Eval struct {
	Robot         core.RobotID
	Pos           int
	Finish        float64     // Committed finish time of the inserted task
	SlackConsumed float64     // Scheduling freedom the insertion removed from the robot
	Successor     core.TaskID // Task currently occupying the position; NoTask when appending
}

// TryInsert evaluates inserting task at pos on the robot without keeping the
// change: the insertion is performed transactionally, measured, and rolled
// back. Returns ErrInfeasible when the position cannot accommodate the task.
func (tt *Timetable) TryInsert(rid core.RobotID, task *core.Task, pos int) (Eval, error) {
	line, ok := tt.lines[rid]
	if !ok || pos < 0 || pos > len(line.entries) {
		return Eval{}, ErrInfeasible
	}
	successor := core.NoTask
	if pos < len(line.entries) {
		successor = line.entries[pos].Task.ID
	}
	slackBefore := tt.Slack(rid)

	snap := tt.Snapshot()
	tx := tt.net.Begin()
	err := tt.insert(line, task, pos)
	var ev Eval
	if err == nil {
		tp := tt.points[task.ID]
		finish := tt.net.EarliestTime(tp.finish)
		tt.refresh(line)
		consumed := slackBefore - tt.SlackExcluding(rid, task.ID)
		if consumed < 0 || math.IsInf(consumed, 0) || math.IsNaN(consumed) {
			consumed = 0
		}
		ev = Eval{Robot: rid, Pos: pos, Finish: finish, SlackConsumed: consumed, Successor: successor}
	}
	if rbErr := tt.net.Rollback(tx); rbErr != nil {
		return Eval{}, rbErr
	}
	tt.Restore(snap)
	tt.refresh(line)
	if err != nil {
		return Eval{}, err
	}
	return ev, nil
}

// SlackExcluding sums scheduling freedom over the robot's pending entries,
// skipping one task. Used to measure slack consumed by a candidate insertion
// without counting the candidate's own freedom.
func (tt *Timetable) SlackExcluding(rid core.RobotID, skip core.TaskID) float64 {
	line, ok := tt.lines[rid]
	if !ok {
		return 0
	}
	total := 0.0
	for _, e := range line.entries {
		if e.Status != Pending || e.Task.ID == skip {
			continue
		}
		tp := tt.points[e.Task.ID]
		total += tt.net.LatestTime(tp.start) - tt.net.EarliestTime(tp.start)
	}
	return total
}
