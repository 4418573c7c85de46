// Package allocate computes initial timetables from unassigned task sets.
package allocate

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

// ErrAllocationInfeasible is returned when some task cannot be inserted into
// any robot's timeline under current constraints. It signals a dataset/fleet
// mismatch the caller must handle; allocation is never retried silently.
var ErrAllocationInfeasible = errors.New("allocation infeasible")

// Allocator computes an initial feasible timetable for a fleet.
type Allocator interface {
	Allocate(fleet *core.Fleet, tt *timetable.Timetable) error
	Name() string
}

// SlackPadding tightens a task's effective latest-finish bound during
// allocation, reserving protective slack. Preventive trials plug a risk
// estimator in here; nil means no padding.
type SlackPadding func(task *core.Task) float64

// Tessi is the greedy incremental-insertion allocator. Tasks are processed in
// non-decreasing earliest-start order; each task is committed to the feasible
// robot/position pair with the lowest finish-time cost.
type Tessi struct {
	Padding SlackPadding
	log     *zap.Logger
}

// NewTessi creates the allocator. padding may be nil.
func NewTessi(padding SlackPadding, log *zap.Logger) *Tessi {
	return &Tessi{Padding: padding, log: log}
}

func (a *Tessi) Name() string { return "tessi" }

// Allocate inserts every fleet task into the timetable. The allocation is
// all-or-nothing: when any task has no feasible placement the timetable and
// network are restored to their pre-allocation state and the error reports
// the task that could not be placed.
func (a *Tessi) Allocate(fleet *core.Fleet, tt *timetable.Timetable) error {
	tasks := make([]*core.Task, len(fleet.Tasks))
	copy(tasks, fleet.Tasks)
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].EarliestStart != tasks[j].EarliestStart {
			return tasks[i].EarliestStart < tasks[j].EarliestStart
		}
		return tasks[i].ID < tasks[j].ID
	})

	snap := tt.Snapshot()
	tx := tt.Network().Begin()
	abort := func(err error) error {
		if rbErr := tt.Network().Rollback(tx); rbErr != nil {
			return rbErr
		}
		tt.Restore(snap)
		tt.Refresh()
		return err
	}

	for _, task := range tasks {
		best, ok := BestInsertion(tt, task)
		if !ok {
			return abort(fmt.Errorf("task %d has no feasible placement: %w", task.ID, ErrAllocationInfeasible))
		}
		if err := tt.InsertTask(best.Robot, task, best.Pos); err != nil {
			return abort(fmt.Errorf("commit task %d on robot %d: %w", task.ID, best.Robot, err))
		}
		if a.Padding != nil {
			// Reserve protective slack by tightening the committed
			// latest-finish bound. A predicted delay later releases the
			// reserve by widening the same bound.
			if pad := a.Padding(task); pad > 0 {
				_, finish, _ := tt.Points(task.ID)
				if err := tt.Network().Tighten(finish, task.LatestFinish-pad); err != nil {
					a.log.Debug("slack reserve skipped, window too tight",
						zap.Int("task", int(task.ID)), zap.Float64("pad", pad))
				}
				tt.Refresh()
			}
		}
		a.log.Debug("task allocated",
			zap.Int("task", int(task.ID)),
			zap.Int("robot", int(best.Robot)),
			zap.Int("pos", best.Pos),
			zap.Float64("finish", best.Finish))
	}
	return tt.Network().Commit(tx)
}

// BestInsertion evaluates every robot and still-pending position for the task
// and returns the feasible candidate with minimal finish-time cost. Ties break by lowest
// robot id, then earliest existing successor task id, giving a total order:
// allocation is deterministic under a fixed input.
func BestInsertion(tt *timetable.Timetable, task *core.Task) (timetable.Eval, bool) {
	var best timetable.Eval
	found := false
	for _, rid := range tt.Robots() {
		line := tt.Line(rid)
		for pos := tt.Frontier(rid); pos <= len(line); pos++ {
			ev, err := tt.TryInsert(rid, task, pos)
			if err != nil {
				continue
			}
			if !found || Better(ev, best) {
				best = ev
				found = true
			}
		}
	}
	return best, found
}

// Better reports whether a beats b under the insertion tie-break order.
func Better(a, b timetable.Eval) bool {
	if a.Finish != b.Finish {
		return a.Finish < b.Finish
	}
	if a.Robot != b.Robot {
		return a.Robot < b.Robot
	}
	return successorRank(a.Successor) < successorRank(b.Successor)
}

func successorRank(id core.TaskID) int {
	if id == core.NoTask {
		return int(^uint(0) >> 1) // No successor sorts last
	}
	return int(id)
}
