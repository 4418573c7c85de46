package sim

import (
	"context"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/repair"
	"github.com/elektrokombinacija/mrta-research/internal/risk"
	"github.com/elektrokombinacija/mrta-research/internal/stn"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

// createTrial builds a two-robot instance with three scheduled tasks and a
// corrective preempt engine around it.
func createTrial(t *testing.T, durationStd float64) (*core.Fleet, *timetable.Timetable, *repair.Engine) {
	t.Helper()
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0), core.NewRobot(1, 0)}
	fleet.Tasks = []*core.Task{
		core.NewTask(1, 0, 500, 10, 0),
		core.NewTask(2, 0, 500, 5, 0),
		core.NewTask(3, 0, 500, 8, 0),
	}
	for _, task := range fleet.Tasks {
		task.DurationStd = durationStd
	}

	tt, err := timetable.New(fleet, stn.New(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := tt.InsertTask(0, fleet.Tasks[0], 0); err != nil {
		t.Fatal(err)
	}
	if err := tt.InsertTask(0, fleet.Tasks[1], 1); err != nil {
		t.Fatal(err)
	}
	if err := tt.InsertTask(1, fleet.Tasks[2], 0); err != nil {
		t.Fatal(err)
	}

	engine, err := repair.New(core.ApproachConfig{
		Policy:    core.Corrective,
		Mechanism: core.Preempt,
	}, fleet, tt, risk.FixedMargin{Margin: 5}, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return fleet, tt, engine
}

func TestRun_NoNoiseCompletesOnSchedule(t *testing.T) {
	fleet, tt, engine := createTrial(t, 0)

	exec := NewExecutor(Config{
		Fleet: fleet, Timetable: tt, Engine: engine, Seed: 1,
	}, zap.NewNop())
	m, err := exec.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.TasksCompleted != 3 {
		t.Errorf("TasksCompleted = %d, want 3", m.TasksCompleted)
	}
	if m.DelaysObserved != 0 || m.RepairsCommitted != 0 || m.DeadlineMisses != 0 {
		t.Errorf("noise-free run produced repairs: %+v", m)
	}
	if math.Abs(m.Makespan-15) > 1e-6 {
		t.Errorf("makespan = %.3f, want 15", m.Makespan)
	}
	for _, rid := range tt.Robots() {
		for _, e := range tt.Line(rid) {
			if e.Status != timetable.Completed {
				t.Errorf("task %d not completed", e.Task.ID)
			}
		}
	}
}

func TestRun_SameSeedSameOutcome(t *testing.T) {
	run := func(seed int64) *Metrics {
		fleet, tt, engine := createTrial(t, 3)
		exec := NewExecutor(Config{
			Fleet: fleet, Timetable: tt, Engine: engine, Seed: seed,
		}, zap.NewNop())
		m, err := exec.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return m
	}

	a, b := run(42), run(42)
	if *a != *b {
		t.Errorf("same seed diverged: %+v vs %+v", a, b)
	}
	// A different seed exercising the same instance is allowed to coincide on
	// counters, but not on the sampled makespan.
	c := run(43)
	if a.Makespan == c.Makespan {
		t.Errorf("seeds 42 and 43 produced identical makespan %.6f", a.Makespan)
	}
}

func TestRun_ReportsObservedDelays(t *testing.T) {
	totalObserved := 0
	callbacks := 0
	for seed := int64(0); seed < 10; seed++ {
		fleet, tt, engine := createTrial(t, 5)
		exec := NewExecutor(Config{
			Fleet: fleet, Timetable: tt, Engine: engine, Seed: seed,
			OnObservedDelay: func(task core.TaskID, delta float64) {
				callbacks++
				if delta <= 0 {
					t.Errorf("non-positive observed delta %.3f for task %d", delta, task)
				}
			},
		}, zap.NewNop())
		m, err := exec.Run(context.Background())
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		totalObserved += m.DelaysObserved
	}
	if totalObserved == 0 {
		t.Fatal("ten noisy trials produced no observed delay")
	}
	if callbacks != totalObserved {
		t.Errorf("callback fired %d times for %d observed delays", callbacks, totalObserved)
	}
}

func TestRun_PredictionsIgnoredUnderCorrective(t *testing.T) {
	var m *Metrics
	for seed := int64(0); seed < 10 && (m == nil || m.DelaysPredicted == 0); seed++ {
		fleet, tt, engine := createTrial(t, 5)
		exec := NewExecutor(Config{
			Fleet: fleet, Timetable: tt, Engine: engine, Seed: seed,
			EmitPredictions: true, PredictAbove: 0.5,
		}, zap.NewNop())
		var err error
		m, err = exec.Run(context.Background())
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
	}
	if m.DelaysPredicted == 0 {
		t.Fatal("ten noisy trials produced no predicted delay")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	fleet, tt, engine := createTrial(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(Config{Fleet: fleet, Timetable: tt, Engine: engine}, zap.NewNop())
	if _, err := exec.Run(ctx); err == nil {
		t.Error("expected context error from canceled run")
	}
}
