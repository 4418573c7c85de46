// Package timetable maintains per-robot ordered task sequences on top of the
// temporal network. Every mutation re-derives the affected robot's local
// temporal constraints and validates them against the network; a conflicting
// mutation is rolled back and reported, never partially applied.
package timetable

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/stn"
)

// ErrInfeasible is returned when an insertion, removal, or shift cannot be
// accommodated by the temporal network.
var ErrInfeasible = errors.New("timetable infeasible")

// Status tracks execution progress of a scheduled task.
type Status int

const (
	Pending Status = iota
	Started
	Completed
)

// Entry is one scheduled task on a robot timeline. Start and Finish are the
// committed times, derived from the network's earliest-time solution.
type Entry struct {
	Task         *core.Task
	Start        float64
	Finish       float64
	Status       Status
	ActualStart  float64
	ActualFinish float64
}

type taskPoints struct {
	start, finish stn.Point
}

type timeline struct {
	robot   *core.Robot
	entries []Entry
	release stn.Point
}

// Timetable maps robots to their ordered task sequences. One timetable and
// one network exist per fleet instance; neither is safe for concurrent
// mutation.
type Timetable struct {
	net    *stn.Network
	travel core.TravelTimeFunc
	lines  map[core.RobotID]*timeline
	order  []core.RobotID
	points map[core.TaskID]taskPoints
	owner  map[core.TaskID]core.RobotID
	log    *zap.Logger
}

// New creates an empty timetable for the fleet, registering one release
// timepoint per robot anchored at its availability time.
func New(fleet *core.Fleet, net *stn.Network, log *zap.Logger) (*Timetable, error) {
	tt := &Timetable{
		net:    net,
		travel: fleet.Travel,
		lines:  make(map[core.RobotID]*timeline, len(fleet.Robots)),
		points: make(map[core.TaskID]taskPoints),
		owner:  make(map[core.TaskID]core.RobotID),
		log:    log,
	}
	for _, r := range fleet.Robots {
		release := net.AddPoint(fmt.Sprintf("r%d.release", r.ID))
		if err := net.AddConstraint(stn.Zero, release, r.AvailableAt, r.AvailableAt); err != nil {
			return nil, fmt.Errorf("anchor release of robot %d: %w", r.ID, err)
		}
		tt.lines[r.ID] = &timeline{robot: r, release: release}
		tt.order = append(tt.order, r.ID)
	}
	return tt, nil
}

// Network exposes the underlying temporal network.
func (tt *Timetable) Network() *stn.Network { return tt.net }

// Robots returns robot ids in ascending order.
func (tt *Timetable) Robots() []core.RobotID {
	out := make([]core.RobotID, len(tt.order))
	copy(out, tt.order)
	return out
}

// Line returns a copy of the robot's entry sequence.
func (tt *Timetable) Line(id core.RobotID) []Entry {
	line, ok := tt.lines[id]
	if !ok {
		return nil
	}
	out := make([]Entry, len(line.entries))
	copy(out, line.entries)
	return out
}

// Owner returns the robot a task is currently assigned to.
func (tt *Timetable) Owner(id core.TaskID) (core.RobotID, bool) {
	r, ok := tt.owner[id]
	return r, ok
}

// Find locates a task and returns its robot, position, and entry.
func (tt *Timetable) Find(id core.TaskID) (core.RobotID, int, *Entry, bool) {
	rid, ok := tt.owner[id]
	if !ok {
		return 0, 0, nil, false
	}
	line := tt.lines[rid]
	for i := range line.entries {
		if line.entries[i].Task.ID == id {
			return rid, i, &line.entries[i], true
		}
	}
	return 0, 0, nil, false
}

// Points returns the start and finish timepoints of a scheduled task.
func (tt *Timetable) Points(id core.TaskID) (start, finish stn.Point, ok bool) {
	p, ok := tt.points[id]
	return p.start, p.finish, ok
}

// TaskCount returns the number of scheduled tasks.
func (tt *Timetable) TaskCount() int { return len(tt.owner) }

// Frontier returns the first still-pending position on the robot's line.
// Insertions below the frontier would place work before tasks that already
// started executing.
func (tt *Timetable) Frontier(rid core.RobotID) int {
	line, ok := tt.lines[rid]
	if !ok {
		return 0
	}
	for i, e := range line.entries {
		if e.Status == Pending {
			return i
		}
	}
	return len(line.entries)
}

// dependents lists scheduled tasks whose precedence chain names id, in
// deterministic robot/position order.
func (tt *Timetable) dependents(id core.TaskID) []core.TaskID {
	var out []core.TaskID
	for _, rid := range tt.order {
		for _, e := range tt.lines[rid].entries {
			if e.Task.ID != id && e.Task.Predecessor == id {
				out = append(out, e.Task.ID)
			}
		}
	}
	return out
}

func (tt *Timetable) prevAnchor(line *timeline, pos int) (stn.Point, core.LocationRef) {
	if pos == 0 {
		return line.release, line.robot.Location
	}
	prev := line.entries[pos-1]
	return tt.points[prev.Task.ID].finish, prev.Task.Location
}

// InsertTask places task at position pos on the robot's timeline. On conflict
// the timetable and network are restored and ErrInfeasible is returned.
func (tt *Timetable) InsertTask(rid core.RobotID, task *core.Task, pos int) error {
	line, ok := tt.lines[rid]
	if !ok {
		return fmt.Errorf("unknown robot %d", rid)
	}
	if pos < 0 || pos > len(line.entries) {
		return fmt.Errorf("position %d out of range for robot %d", pos, rid)
	}
	if _, dup := tt.owner[task.ID]; dup {
		return fmt.Errorf("task %d already scheduled", task.ID)
	}

	tx := tt.net.Begin()
	if err := tt.insert(line, task, pos); err != nil {
		if rbErr := tt.net.Rollback(tx); rbErr != nil {
			return rbErr
		}
		return err
	}
	if err := tt.net.Commit(tx); err != nil {
		return err
	}
	// Precedence edges cross robot lines, so every line's committed times
	// may have moved.
	tt.Refresh()
	tt.log.Debug("task inserted",
		zap.Int("task", int(task.ID)),
		zap.Int("robot", int(rid)),
		zap.Int("pos", pos))
	return nil
}

// insert mutates the network and line; callers own the enclosing transaction
// and undo the line splice on failure via the error path below.
func (tt *Timetable) insert(line *timeline, task *core.Task, pos int) error {
	start := tt.net.AddPoint(fmt.Sprintf("t%d.start", task.ID))
	finish := tt.net.AddPoint(fmt.Sprintf("t%d.finish", task.ID))

	if err := tt.net.AddConstraint(start, finish, task.Duration, task.Duration); err != nil {
		return fmt.Errorf("duration of task %d: %w", task.ID, ErrInfeasible)
	}
	if err := tt.net.AddConstraint(stn.Zero, start, task.EarliestStart, math.Inf(1)); err != nil {
		return fmt.Errorf("earliest start of task %d: %w", task.ID, ErrInfeasible)
	}
	if err := tt.net.AddConstraint(stn.Zero, finish, math.Inf(-1), task.LatestFinish); err != nil {
		return fmt.Errorf("latest finish of task %d: %w", task.ID, ErrInfeasible)
	}
	if task.HasPredecessor() {
		if pp, ok := tt.points[task.Predecessor]; ok {
			if err := tt.net.AddConstraint(pp.finish, start, 0, math.Inf(1)); err != nil {
				return fmt.Errorf("precedence %d->%d: %w", task.Predecessor, task.ID, ErrInfeasible)
			}
		}
	}
	// Scheduled tasks chained after this one regain their precedence edge;
	// without it a successor placed earlier would silently run free.
	for _, succ := range tt.dependents(task.ID) {
		if err := tt.net.AddConstraint(finish, tt.points[succ].start, 0, math.Inf(1)); err != nil {
			return fmt.Errorf("precedence %d->%d: %w", task.ID, succ, ErrInfeasible)
		}
	}

	anchor, anchorLoc := tt.prevAnchor(line, pos)
	if pos < len(line.entries) {
		next := line.entries[pos]
		nextStart := tt.points[next.Task.ID].start
		tt.net.RemoveConstraint(anchor, nextStart)
		if err := tt.net.AddConstraint(finish, nextStart, tt.travel(task.Location, next.Task.Location), math.Inf(1)); err != nil {
			return fmt.Errorf("link task %d to successor %d: %w", task.ID, next.Task.ID, ErrInfeasible)
		}
	}
	if err := tt.net.AddConstraint(anchor, start, tt.travel(anchorLoc, task.Location), math.Inf(1)); err != nil {
		return fmt.Errorf("link task %d to predecessor slot: %w", task.ID, ErrInfeasible)
	}

	line.entries = append(line.entries, Entry{})
	copy(line.entries[pos+1:], line.entries[pos:])
	line.entries[pos] = Entry{Task: task}
	tt.points[task.ID] = taskPoints{start: start, finish: finish}
	tt.owner[task.ID] = line.robot.ID
	return nil
}

// RemoveTask unschedules a task and relinks its neighbors. Relinking can
// itself conflict (travel between the neighbors may not fit), in which case
// nothing changes and ErrInfeasible is returned.
func (tt *Timetable) RemoveTask(rid core.RobotID, id core.TaskID) error {
	line, ok := tt.lines[rid]
	if !ok {
		return fmt.Errorf("unknown robot %d", rid)
	}
	pos := -1
	for i := range line.entries {
		if line.entries[i].Task.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("task %d not on robot %d", id, rid)
	}

	tx := tt.net.Begin()
	if err := tt.remove(line, pos); err != nil {
		if rbErr := tt.net.Rollback(tx); rbErr != nil {
			return rbErr
		}
		return err
	}
	if err := tt.net.Commit(tx); err != nil {
		return err
	}
	tt.Refresh()
	tt.log.Debug("task removed", zap.Int("task", int(id)), zap.Int("robot", int(rid)))
	return nil
}

func (tt *Timetable) remove(line *timeline, pos int) error {
	task := line.entries[pos].Task
	tp := tt.points[task.ID]
	anchor, anchorLoc := tt.prevAnchor(line, pos)

	tt.net.RemoveConstraint(anchor, tp.start)
	tt.net.RemoveConstraint(tp.start, tp.finish)
	tt.net.RemoveConstraint(stn.Zero, tp.start)
	tt.net.RemoveConstraint(stn.Zero, tp.finish)
	if task.HasPredecessor() {
		if pp, ok := tt.points[task.Predecessor]; ok {
			tt.net.RemoveConstraint(pp.finish, tp.start)
		}
	}
	// Detach dependents so they do not keep pointing at the orphaned finish
	// point; re-insertion re-anchors them against the fresh points.
	for _, succ := range tt.dependents(task.ID) {
		tt.net.RemoveConstraint(tp.finish, tt.points[succ].start)
	}

	if pos < len(line.entries)-1 {
		next := line.entries[pos+1].Task
		nextStart := tt.points[next.ID].start
		tt.net.RemoveConstraint(tp.finish, nextStart)
		if err := tt.net.AddConstraint(anchor, nextStart, tt.travel(anchorLoc, next.Location), math.Inf(1)); err != nil {
			return fmt.Errorf("relink around task %d: %w", task.ID, ErrInfeasible)
		}
	}

	// The task's timepoints stay in the network as unconstrained orphans; a
	// later re-insertion registers fresh points.
	line.entries = append(line.entries[:pos], line.entries[pos+1:]...)
	delete(tt.points, task.ID)
	delete(tt.owner, task.ID)
	return nil
}

// ShiftFrom pushes every not-yet-started entry at or after pos later by
// delta, re-validating the network. If any shifted task would cross its
// latest-finish bound the whole shift is rolled back.
func (tt *Timetable) ShiftFrom(rid core.RobotID, pos int, delta float64) error {
	line, ok := tt.lines[rid]
	if !ok {
		return fmt.Errorf("unknown robot %d", rid)
	}
	if pos < 0 || pos > len(line.entries) {
		return fmt.Errorf("position %d out of range for robot %d", pos, rid)
	}

	tx := tt.net.Begin()
	for i := pos; i < len(line.entries); i++ {
		e := &line.entries[i]
		if e.Status != Pending {
			continue
		}
		tp := tt.points[e.Task.ID]
		if err := tt.net.RaiseLower(tp.start, e.Start+delta); err != nil {
			if rbErr := tt.net.Rollback(tx); rbErr != nil {
				return rbErr
			}
			return fmt.Errorf("shift task %d by %g: %w", e.Task.ID, delta, ErrInfeasible)
		}
	}
	if err := tt.net.Commit(tx); err != nil {
		return err
	}
	tt.Refresh()
	tt.log.Debug("timeline shifted",
		zap.Int("robot", int(rid)), zap.Int("from", pos), zap.Float64("delta", delta))
	return nil
}

// MarkStarted records that a task began executing at time t.
func (tt *Timetable) MarkStarted(id core.TaskID, t float64) {
	if _, _, e, ok := tt.Find(id); ok {
		e.Status = Started
		e.ActualStart = t
	}
}

// MarkCompleted records that a task finished executing at time t.
func (tt *Timetable) MarkCompleted(id core.TaskID, t float64) {
	if _, _, e, ok := tt.Find(id); ok {
		e.Status = Completed
		e.ActualFinish = t
	}
}

// refresh re-reads committed times for a robot line from the earliest-time
// solution of the network.
func (tt *Timetable) refresh(line *timeline) {
	for i := range line.entries {
		tp := tt.points[line.entries[i].Task.ID]
		line.entries[i].Start = tt.net.EarliestTime(tp.start)
		line.entries[i].Finish = tt.net.EarliestTime(tp.finish)
	}
}

// Refresh recomputes committed times on every robot line.
func (tt *Timetable) Refresh() {
	for _, rid := range tt.order {
		tt.refresh(tt.lines[rid])
	}
}

// Makespan returns the latest committed finish across all robots.
func (tt *Timetable) Makespan() float64 {
	max := 0.0
	for _, rid := range tt.order {
		for _, e := range tt.lines[rid].entries {
			if e.Finish > max {
				max = e.Finish
			}
		}
	}
	return max
}

// Slack sums the scheduling freedom (latest minus earliest start) over a
// robot's pending entries. Used by dsc bid scoring.
func (tt *Timetable) Slack(rid core.RobotID) float64 {
	line, ok := tt.lines[rid]
	if !ok {
		return 0
	}
	total := 0.0
	for _, e := range line.entries {
		if e.Status != Pending {
			continue
		}
		tp := tt.points[e.Task.ID]
		total += tt.net.LatestTime(tp.start) - tt.net.EarliestTime(tp.start)
	}
	return total
}

// Validate checks the ordering invariant on every timeline: strictly
// increasing starts and finish(i) <= start(i+1).
func (tt *Timetable) Validate() error {
	for _, rid := range tt.order {
		line := tt.lines[rid]
		for i := 1; i < len(line.entries); i++ {
			prev, cur := line.entries[i-1], line.entries[i]
			if cur.Start <= prev.Start {
				return fmt.Errorf("robot %d: task %d start %g not after task %d start %g",
					rid, cur.Task.ID, cur.Start, prev.Task.ID, prev.Start)
			}
			if prev.Finish > cur.Start {
				return fmt.Errorf("robot %d: task %d finish %g overlaps task %d start %g",
					rid, prev.Task.ID, prev.Finish, cur.Task.ID, cur.Start)
			}
		}
	}
	return nil
}

// Covers checks the coverage invariant: every task of the set appears exactly
// once across all robot sequences.
func (tt *Timetable) Covers(tasks []*core.Task) error {
	if len(tt.owner) != len(tasks) {
		return fmt.Errorf("timetable holds %d tasks, want %d", len(tt.owner), len(tasks))
	}
	for _, t := range tasks {
		if _, ok := tt.owner[t.ID]; !ok {
			return fmt.Errorf("task %d missing from timetable", t.ID)
		}
	}
	return nil
}
