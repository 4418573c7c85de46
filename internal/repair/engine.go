package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/allocate"
	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/risk"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

// ErrRepairInfeasible means both the selected mechanism and its escalation
// were exhausted; the timetable remains in its last committed state.
var ErrRepairInfeasible = errors.New("repair infeasible")

// DistributionFunc maps a task to its assumed delay distribution. The default
// derives one from the task's duration spread.
type DistributionFunc func(*core.Task) risk.Distribution

// DefaultDistribution assumes delays on the scale of the task's duration
// noise. Tasks with no recorded spread yield an invalid distribution, which
// drives the estimator into its degraded fixed-margin fallback.
func DefaultDistribution(t *core.Task) risk.Distribution {
	if t.DurationStd <= 0 {
		return risk.Distribution{}
	}
	return risk.Distribution{Mean: t.DurationStd, Std: t.DurationStd}
}

// Stats counts repair outcomes over the engine's lifetime.
type Stats struct {
	Committed  int
	RolledBack int
	Escalated  int
	Widened    int // Preventive bound widenings
	Ignored    int // Events outside the policy's scope
	Degraded   int // Slack estimations that fell back to the default margin
}

// Engine processes delay events strictly sequentially for one fleet
// instance. It exclusively owns mutation rights to the timetable and network
// while a repair is in progress.
type Engine struct {
	mu    sync.Mutex
	cfg   core.ApproachConfig
	fleet *core.Fleet
	tt    *timetable.Timetable
	est   risk.Estimator
	dist  DistributionFunc

	state  State
	events chan DelayEvent
	stats  Stats
	log    *zap.Logger
}

// New validates the approach configuration and wires the engine. dist may be
// nil, in which case DefaultDistribution is used.
func New(cfg core.ApproachConfig, fleet *core.Fleet, tt *timetable.Timetable, est risk.Estimator, dist DistributionFunc, log *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("approach config: %w", err)
	}
	if est == nil {
		return nil, fmt.Errorf("nil risk estimator")
	}
	if dist == nil {
		dist = DefaultDistribution
	}
	return &Engine{
		cfg:    cfg,
		fleet:  fleet,
		tt:     tt,
		est:    est,
		dist:   dist,
		state:  Monitoring,
		events: make(chan DelayEvent, 128),
		log:    log,
	}, nil
}

// State returns the engine's current cycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a copy of the outcome counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// CurrentTimetable returns a copy of every robot's committed sequence.
func (e *Engine) CurrentTimetable() map[core.RobotID][]timetable.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[core.RobotID][]timetable.Entry)
	for _, rid := range e.tt.Robots() {
		out[rid] = e.tt.Line(rid)
	}
	return out
}

// OnDelayEvent queues an event for processing. Events are applied in arrival
// order; a second event arriving while a repair is in progress waits.
func (e *Engine) OnDelayEvent(ev DelayEvent) {
	e.events <- ev
}

// Run processes queued events until the context is canceled. Cancellation
// between events aborts the trial with the timetable in its last committed
// state; a repair in progress always completes its commit or rollback first.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-e.events:
			if _, err := e.Process(ev); err != nil && !errors.Is(err, ErrRepairInfeasible) {
				return err
			}
		}
	}
}

// Process runs one full repair cycle synchronously:
// MONITORING -> DECIDING -> APPLYING -> {COMMITTED, ROLLED_BACK} -> MONITORING.
func (e *Engine) Process(ev DelayEvent) (Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = Deciding
	defer func() { e.state = Monitoring }()

	dec := Decision{
		Attempt:   uuid.New(),
		Policy:    e.cfg.Policy,
		Mechanism: e.cfg.Mechanism,
	}

	switch {
	case ev.Kind == Predicted && e.cfg.Policy == core.Corrective:
		// Corrective trials act only on observed deviations.
		dec.NoOp = true
		e.stats.Ignored++
		e.log.Debug("predicted delay ignored under corrective policy",
			zap.Int("task", int(ev.Task)))
		return dec, nil

	case ev.Kind == Predicted:
		return e.widenBound(ev, dec)

	case ev.Kind == Observed:
		return e.applyRepair(ev, dec)
	}
	return dec, fmt.Errorf("unknown event kind %d", int(ev.Kind))
}

// widenBound is the preventive reaction to a predicted delay: the affected
// task's latest-finish bound is widened by the estimated slack before any
// deviation is observed. The timetable itself is not mutated.
func (e *Engine) widenBound(ev DelayEvent, dec Decision) (Decision, error) {
	_, _, entry, ok := e.tt.Find(ev.Task)
	if !ok {
		dec.NoOp = true
		e.log.Warn("predicted delay for unscheduled task", zap.Int("task", int(ev.Task)))
		return dec, nil
	}
	slack := e.estimateSlack(entry.Task)
	_, finish, _ := e.tt.Points(ev.Task)

	e.state = Applying
	if err := e.tt.Network().WidenUpper(finish, slack); err != nil {
		e.state = RolledBack
		e.stats.RolledBack++
		return dec, fmt.Errorf("widen bound of task %d: %w", ev.Task, err)
	}
	e.state = Committed
	e.stats.Committed++
	e.stats.Widened++
	dec.Feasible = true
	e.log.Info("latest-finish bound widened preventively",
		zap.Int("task", int(ev.Task)), zap.Float64("slack", slack))
	return dec, nil
}

// applyRepair handles an observed delay: the deviation is committed to the
// network, then the mechanism relocates or shifts the robot's pending queue.
// The whole attempt is transactional; on infeasibility nothing survives.
func (e *Engine) applyRepair(ev DelayEvent, dec Decision) (Decision, error) {
	rid, pos, entry, ok := e.tt.Find(ev.Task)
	if !ok {
		dec.NoOp = true
		e.log.Warn("observed delay for unscheduled task", zap.Int("task", int(ev.Task)))
		return dec, nil
	}
	actualFinish := entry.Finish + ev.Delta

	snap := e.tt.Snapshot()
	tx := e.tt.Network().Begin()
	e.state = Applying

	err := e.commitDeviation(ev.Task, actualFinish)
	if err == nil {
		switch e.cfg.Mechanism {
		case core.Preempt:
			err = e.tt.ShiftFrom(rid, pos+1, ev.Delta)
			if err != nil {
				// Shift crossed a latest-finish bound; escalate.
				dec.Escalated = true
				e.stats.Escalated++
				e.log.Info("preempt infeasible, escalating to re-allocate",
					zap.Int("task", int(ev.Task)), zap.Float64("delta", ev.Delta))
				err = e.reallocateSuccessors(rid, pos)
			}
		case core.ReAllocate:
			err = e.reallocateSuccessors(rid, pos)
		}
	}

	if err != nil {
		if rbErr := e.tt.Network().Rollback(tx); rbErr != nil {
			return dec, rbErr
		}
		e.tt.Restore(snap)
		e.tt.Refresh()
		e.state = RolledBack
		e.stats.RolledBack++
		e.log.Warn("repair rolled back",
			zap.Int("task", int(ev.Task)),
			zap.String("mechanism", e.cfg.Mechanism.String()),
			zap.Error(err))
		return dec, fmt.Errorf("delay of %g on task %d: %w", ev.Delta, ev.Task, ErrRepairInfeasible)
	}

	if err := e.tt.Network().Commit(tx); err != nil {
		return dec, err
	}
	e.tt.Refresh()
	e.tt.MarkCompleted(ev.Task, actualFinish)
	e.state = Committed
	e.stats.Committed++
	dec.Feasible = true
	e.log.Info("repair committed",
		zap.Int("task", int(ev.Task)),
		zap.String("mechanism", dec.Mechanism.String()),
		zap.Bool("escalated", dec.Escalated))
	return dec, nil
}

// commitDeviation moves the delayed task's finish to its actual value. A
// finish past the task's own latest bound is recorded as-is: reality
// overrides the plan, and the miss shows up in trial metrics.
func (e *Engine) commitDeviation(id core.TaskID, actualFinish float64) error {
	_, finish, ok := e.tt.Points(id)
	if !ok {
		return fmt.Errorf("task %d has no timepoints", id)
	}
	net := e.tt.Network()
	if net.Upper(finish) < actualFinish {
		if err := net.Tighten(finish, actualFinish); err != nil {
			return err
		}
	}
	return net.RaiseLower(finish, actualFinish)
}

// reallocateSuccessors removes the pending tasks after pos on the robot and
// reinserts each at its minimal-cost feasible position, possibly on another
// robot. Under the dsc risk model every robot bids and the lowest bid wins.
func (e *Engine) reallocateSuccessors(rid core.RobotID, pos int) error {
	line := e.tt.Line(rid)
	var displaced []*core.Task
	for i := pos + 1; i < len(line); i++ {
		if line[i].Status != timetable.Pending {
			continue
		}
		displaced = append(displaced, line[i].Task)
	}

	// Remove back to front so positions stay valid.
	for i := len(displaced) - 1; i >= 0; i-- {
		if err := e.tt.RemoveTask(rid, displaced[i].ID); err != nil {
			return err
		}
	}

	for _, task := range displaced {
		var ev timetable.Eval
		var ok bool
		if e.cfg.RiskModel == core.RiskDSC {
			bid, found := risk.WinningBid(risk.CollectBids(e.tt, task))
			ev, ok = bid.Eval, found
		} else {
			ev, ok = allocate.BestInsertion(e.tt, task)
		}
		if !ok {
			return fmt.Errorf("task %d has no feasible reinsertion", task.ID)
		}
		if err := e.tt.InsertTask(ev.Robot, task, ev.Pos); err != nil {
			return err
		}
		e.log.Debug("task re-allocated",
			zap.Int("task", int(task.ID)),
			zap.Int("from", int(rid)),
			zap.Int("to", int(ev.Robot)),
			zap.Int("pos", ev.Pos))
	}
	return nil
}

// estimateSlack consults the risk model, falling back to the default margin
// when it cannot produce an estimate. The fallback is a degraded-mode
// decision, not a failure.
func (e *Engine) estimateSlack(task *core.Task) float64 {
	slack, err := e.est.EstimateSlack(task, e.dist(task))
	if err != nil {
		if errors.Is(err, risk.ErrUnavailable) {
			e.stats.Degraded++
			e.log.Warn("risk model unavailable, using default margin",
				zap.Int("task", int(task.ID)),
				zap.String("estimator", e.est.Name()),
				zap.Error(err))
			return risk.DefaultMargin
		}
		e.log.Warn("slack estimation failed, using default margin",
			zap.Int("task", int(task.ID)), zap.Error(err))
		return risk.DefaultMargin
	}
	return slack
}
