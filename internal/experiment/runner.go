package experiment

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/allocate"
	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/repair"
	"github.com/elektrokombinacija/mrta-research/internal/risk"
	"github.com/elektrokombinacija/mrta-research/internal/sim"
	"github.com/elektrokombinacija/mrta-research/internal/stn"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

// Summary aggregates a campaign's outcomes.
type Summary struct {
	Trials    int
	Succeeded int
	Failed    int
}

// Runner executes a campaign: every dataset x approach x seed combination as
// one independent fleet instance. Trials share nothing mutable and run in
// parallel.
type Runner struct {
	cfg   Config
	store *Store
	log   *zap.Logger
}

// NewRunner wires a runner over an open store.
func NewRunner(cfg Config, store *Store, log *zap.Logger) *Runner {
	return &Runner{cfg: cfg, store: store, log: log}
}

// Run executes the whole campaign and returns its summary. Individual trial
// failures (infeasible allocations or repairs) are recorded, not fatal; only
// infrastructure errors abort the campaign.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	datasets := make(map[string]*Dataset, len(r.cfg.Datasets))
	for _, name := range r.cfg.Datasets {
		ds, err := LoadDataset(r.cfg.DatasetsDir, name)
		if err != nil {
			return Summary{}, err
		}
		datasets[name] = ds
	}

	limit := r.cfg.MaxParallel
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	sem := make(chan struct{}, limit)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary Summary
		fatal   error
	)

	for _, name := range r.cfg.Datasets {
		for _, approach := range r.cfg.Approaches {
			cfg, err := ParseApproach(approach) // Validated already; decomposed once per trial group.
			if err != nil {
				return Summary{}, err
			}
			for _, seed := range r.cfg.Seeds {
				wg.Add(1)
				ds, approach, seed, cfg := datasets[name], approach, seed, cfg
				go func() {
					defer wg.Done()
					select {
					case sem <- struct{}{}:
						defer func() { <-sem }()
					case <-ctx.Done():
						return
					}
					result, err := r.runTrial(ctx, ds, approach, cfg, seed)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						if fatal == nil {
							fatal = err
						}
						return
					}
					summary.Trials++
					if result.Success {
						summary.Succeeded++
					} else {
						summary.Failed++
					}
				}()
			}
		}
	}
	wg.Wait()

	if fatal != nil {
		return summary, fatal
	}
	return summary, ctx.Err()
}

// runTrial builds one fleet instance, allocates, executes with injected
// delays, and records the outcome. A trial failure is reported in the result;
// the returned error is reserved for infrastructure problems.
func (r *Runner) runTrial(ctx context.Context, ds *Dataset, approach string, cfg core.ApproachConfig, seed int64) (TrialResult, error) {
	runID := uuid.NewString()
	log := r.log.With(
		zap.String("run", runID),
		zap.String("dataset", ds.Name),
		zap.String("approach", approach),
		zap.Int64("seed", seed))

	result := TrialResult{
		RunID:    runID,
		Dataset:  ds.Name,
		Approach: approach,
		Seed:     seed,
	}

	fleet, err := ds.Fleet()
	if err != nil {
		return TrialResult{}, err
	}

	net := stn.New()
	tt, err := timetable.New(fleet, net, log)
	if err != nil {
		return TrialResult{}, err
	}

	est := r.estimator(cfg, ds.Name)

	var padding allocate.SlackPadding
	if cfg.Policy == core.Preventive {
		padding = func(t *core.Task) float64 {
			slack, err := est.EstimateSlack(t, repair.DefaultDistribution(t))
			if err != nil {
				return risk.DefaultMargin
			}
			return slack
		}
	}

	alloc := allocate.NewTessi(padding, log)
	if err := alloc.Allocate(fleet, tt); err != nil {
		if errors.Is(err, allocate.ErrAllocationInfeasible) {
			log.Warn("allocation infeasible", zap.Error(err))
			result.FailReason = err.Error()
			return result, r.store.RecordTrial(ctx, result)
		}
		return TrialResult{}, err
	}

	engine, err := repair.New(cfg, fleet, tt, est, nil, log)
	if err != nil {
		return TrialResult{}, err
	}

	exec := sim.NewExecutor(sim.Config{
		Fleet:           fleet,
		Timetable:       tt,
		Engine:          engine,
		Seed:            seed,
		DelayScale:      r.cfg.DelayScale,
		EmitPredictions: cfg.Policy == core.Preventive,
		PredictAbove:    r.cfg.PredictAbove,
		OnObservedDelay: func(taskID core.TaskID, delta float64) {
			if err := r.store.RecordDelay(ctx, ds.Name, int(taskID), delta); err != nil {
				log.Warn("record delay", zap.Error(err))
			}
		},
	}, log)

	metrics, err := exec.Run(ctx)
	if err != nil && !errors.Is(err, repair.ErrRepairInfeasible) {
		return TrialResult{}, err
	}

	result.Success = !metrics.Infeasible
	result.Makespan = metrics.Makespan
	result.TasksCompleted = metrics.TasksCompleted
	result.RepairsCommitted = metrics.RepairsCommitted
	result.RepairsRolledBck = metrics.RepairsRolledBck
	result.DeadlineMisses = metrics.DeadlineMisses
	result.FailReason = metrics.FailReason

	log.Info("trial finished",
		zap.Bool("success", result.Success),
		zap.Float64("makespan", result.Makespan),
		zap.Int("repairs", result.RepairsCommitted))
	return result, r.store.RecordTrial(ctx, result)
}

// estimator maps the trial's risk model to a slack estimator. dsc trials
// carry their semantics in bid scoring; their slack estimator is the fixed
// one (or the delay history when enabled).
func (r *Runner) estimator(cfg core.ApproachConfig, dataset string) risk.Estimator {
	switch cfg.RiskModel {
	case core.RiskSREA:
		return risk.Quantile{P: r.cfg.Quantile}
	default:
		if r.cfg.UseDelayHistory {
			return risk.Historical{Dataset: dataset, Hist: r.store}
		}
		return risk.FixedMargin{Margin: r.cfg.FixedMargin}
	}
}

var _ risk.History = (*Store)(nil)

// Describe renders one line per campaign dimension, for the CLI.
func (c Config) Describe() string {
	return fmt.Sprintf("%d dataset(s) x %d approach(es) x %d seed(s)",
		len(c.Datasets), len(c.Approaches), len(c.Seeds))
}
