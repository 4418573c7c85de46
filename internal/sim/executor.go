// Package sim provides the simulated execution adapter: it walks a committed
// timetable, samples actual task durations, and feeds the resulting delay
// events to the repair engine in order.
package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/repair"
	"github.com/elektrokombinacija/mrta-research/internal/risk"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

// timeTolerance below which a finish deviation is not reported as a delay.
const timeTolerance = 0.001

// Config parameterizes one simulated execution of a fleet instance.
type Config struct {
	Fleet     *core.Fleet
	Timetable *timetable.Timetable
	Engine    *repair.Engine

	Seed            int64
	DelayScale      float64 // Multiplier on each task's duration spread
	EmitPredictions bool    // Announce sampled overruns before task start
	PredictAbove    float64 // Minimum projected overrun worth announcing

	// OnObservedDelay, when set, receives every observed delay before it is
	// reported to the engine. The experiment store uses it to build the
	// delay history.
	OnObservedDelay func(task core.TaskID, delta float64)
}

// Metrics collects per-trial outcomes.
type Metrics struct {
	TasksCompleted   int
	DelaysObserved   int
	DelaysPredicted  int
	RepairsCommitted int
	RepairsRolledBck int
	Escalations      int
	DeadlineMisses   int
	Makespan         float64
	Infeasible       bool
	FailReason       string
}

// Executor drives simulated time over the timetable. One executor serves one
// trial; it shares the fleet instance with exactly one repair engine.
type Executor struct {
	cfg Config
	rng *rand.Rand
	log *zap.Logger
}

// NewExecutor creates a seeded executor.
func NewExecutor(cfg Config, log *zap.Logger) *Executor {
	if cfg.DelayScale <= 0 {
		cfg.DelayScale = 1
	}
	return &Executor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: log,
	}
}

type robotClock struct {
	lastFinish float64
	lastLoc    core.LocationRef
}

// Run executes every scheduled task in committed start order, emitting delay
// events as deviations arise. It stops early when a repair is declared
// infeasible or the context is canceled; either way the timetable is left in
// its last committed state.
func (x *Executor) Run(ctx context.Context) (*Metrics, error) {
	m := &Metrics{}
	tt := x.cfg.Timetable
	clocks := make(map[core.RobotID]*robotClock)
	for _, r := range x.cfg.Fleet.Robots {
		clocks[r.ID] = &robotClock{lastFinish: r.AvailableAt, lastLoc: r.Location}
	}

	for {
		select {
		case <-ctx.Done():
			return m, ctx.Err()
		default:
		}

		rid, entry, ok := nextPending(tt)
		if !ok {
			break
		}
		clock := clocks[rid]
		task := entry.Task

		actualDur := x.sampleDuration(task)
		overrun := actualDur - task.Duration

		if x.cfg.EmitPredictions && overrun > x.cfg.PredictAbove {
			m.DelaysPredicted++
			dec, err := x.cfg.Engine.Process(repair.DelayEvent{
				Task: task.ID, Robot: rid, Delta: overrun, Kind: repair.Predicted,
			})
			if err != nil {
				x.log.Warn("predicted delay handling failed",
					zap.Int("task", int(task.ID)), zap.Error(err))
			} else if dec.Feasible {
				m.RepairsCommitted++
			}
		}

		// Re-read committed times; the predicted-delay handler may have moved
		// bounds, and earlier repairs may have moved the entry itself.
		curRID, _, cur, found := tt.Find(task.ID)
		if !found {
			break
		}
		rid = curRID
		clock = clocks[rid]

		actualStart := cur.Start
		if ready := clock.lastFinish + x.cfg.Fleet.Travel(clock.lastLoc, task.Location); ready > actualStart {
			actualStart = ready
		}
		tt.MarkStarted(task.ID, actualStart)
		actualFinish := actualStart + actualDur
		delta := actualFinish - cur.Finish

		if actualFinish > task.LatestFinish+timeTolerance {
			m.DeadlineMisses++
		}

		if delta > timeTolerance {
			m.DelaysObserved++
			if x.cfg.OnObservedDelay != nil {
				x.cfg.OnObservedDelay(task.ID, delta)
			}
			dec, err := x.cfg.Engine.Process(repair.DelayEvent{
				Task: task.ID, Robot: rid, Delta: delta, Kind: repair.Observed,
			})
			switch {
			case err == nil && dec.Feasible:
				m.RepairsCommitted++
				if dec.Escalated {
					m.Escalations++
				}
			case errors.Is(err, repair.ErrRepairInfeasible):
				m.RepairsRolledBck++
				m.Infeasible = true
				m.FailReason = err.Error()
				x.log.Warn("trial failed, no feasible repair",
					zap.Int("task", int(task.ID)), zap.Float64("delta", delta))
				m.Makespan = tt.Makespan()
				return m, err
			case err != nil:
				return m, err
			}
		} else {
			tt.MarkCompleted(task.ID, actualFinish)
		}

		clock.lastFinish = actualFinish
		clock.lastLoc = task.Location
		m.TasksCompleted++
	}

	m.Makespan = tt.Makespan()
	return m, nil
}

// sampleDuration draws the task's actual duration. Tasks without a recorded
// spread run exactly at their nominal duration.
func (x *Executor) sampleDuration(task *core.Task) float64 {
	if task.DurationStd <= 0 {
		return task.Duration
	}
	ln := risk.LogNormalFromMeanStd(task.Duration, task.DurationStd*x.cfg.DelayScale)
	d := ln.Sample(x.rng)
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return task.Duration
	}
	return d
}

// nextPending returns the pending entry with the earliest committed start,
// ties broken by lowest robot id.
func nextPending(tt *timetable.Timetable) (core.RobotID, timetable.Entry, bool) {
	var bestRID core.RobotID
	var best timetable.Entry
	found := false
	for _, rid := range tt.Robots() {
		for _, e := range tt.Line(rid) {
			if e.Status != timetable.Pending {
				continue
			}
			if !found || e.Start < best.Start || (e.Start == best.Start && rid < bestRID) {
				bestRID, best, found = rid, e, true
			}
			break // Entries are ordered; only the first pending one matters.
		}
	}
	return bestRID, best, found
}
