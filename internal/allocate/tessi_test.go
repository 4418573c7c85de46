package allocate

import (
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/elektrokombinacija/mrta-research/internal/core"
	"github.com/elektrokombinacija/mrta-research/internal/stn"
	"github.com/elektrokombinacija/mrta-research/internal/timetable"
)

func timeEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func createTimetable(t *testing.T, fleet *core.Fleet) *timetable.Timetable {
	t.Helper()
	tt, err := timetable.New(fleet, stn.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("timetable.New: %v", err)
	}
	return tt
}

func TestAllocate_SingleRobotOrder(t *testing.T) {
	// Three tasks, one robot: the line must follow earliest-start order,
	// regardless of declaration order.
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0)}
	fleet.Tasks = []*core.Task{
		core.NewTask(3, 20, 100, 5, 0),
		core.NewTask(1, 0, 100, 5, 0),
		core.NewTask(2, 10, 100, 5, 0),
	}
	tt := createTimetable(t, fleet)

	if err := NewTessi(nil, zap.NewNop()).Allocate(fleet, tt); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	line := tt.Line(0)
	if len(line) != 3 {
		t.Fatalf("line length = %d, want 3", len(line))
	}
	for i, want := range []core.TaskID{1, 2, 3} {
		if line[i].Task.ID != want {
			t.Errorf("position %d holds task %d, want %d", i, line[i].Task.ID, want)
		}
	}
	if err := tt.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := tt.Covers(fleet.Tasks); err != nil {
		t.Errorf("Covers: %v", err)
	}
}

func TestAllocate_BalancesByFinish(t *testing.T) {
	// Two identical robots, two simultaneous tasks with deadlines that rule
	// out stacking: the second task must land on the empty robot.
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0), core.NewRobot(1, 0)}
	fleet.Tasks = []*core.Task{
		core.NewTask(1, 0, 15, 10, 0),
		core.NewTask(2, 0, 15, 10, 0),
	}
	tt := createTimetable(t, fleet)

	if err := NewTessi(nil, zap.NewNop()).Allocate(fleet, tt); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(tt.Line(0)) != 1 || len(tt.Line(1)) != 1 {
		t.Errorf("lines = %d/%d tasks, want 1/1",
			len(tt.Line(0)), len(tt.Line(1)))
	}
	// Equal finish candidates break to the lowest robot id.
	if r, _ := tt.Owner(1); r != 0 {
		t.Errorf("task 1 on robot %d, want 0", r)
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	build := func() *timetable.Timetable {
		fleet := core.NewFleet()
		fleet.Robots = []*core.Robot{core.NewRobot(0, 0), core.NewRobot(1, 5)}
		fleet.Tasks = []*core.Task{
			core.NewTask(1, 0, 200, 10, 3),
			core.NewTask(2, 0, 200, 8, 5),
			core.NewTask(3, 5, 200, 12, 1),
			core.NewTask(4, 5, 200, 6, 7),
		}
		fleet.Travel = func(from, to core.LocationRef) float64 {
			return math.Abs(float64(from - to))
		}
		tt := createTimetable(t, fleet)
		if err := NewTessi(nil, zap.NewNop()).Allocate(fleet, tt); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		return tt
	}

	first := build().Snapshot()
	for i := 0; i < 3; i++ {
		if !first.Equal(build().Snapshot()) {
			t.Fatal("repeated allocation produced a different timetable")
		}
	}
}

func TestAllocate_Infeasible(t *testing.T) {
	// Two long tasks with deadlines only one of which can be met by the single
	// robot. Allocation must fail loudly, not return a partial success.
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0)}
	fleet.Tasks = []*core.Task{
		core.NewTask(1, 0, 12, 10, 0),
		core.NewTask(2, 0, 12, 10, 0),
	}
	tt := createTimetable(t, fleet)
	before := tt.Snapshot()
	points := tt.Network().NumPoints()

	err := NewTessi(nil, zap.NewNop()).Allocate(fleet, tt)
	if !errors.Is(err, ErrAllocationInfeasible) {
		t.Fatalf("expected ErrAllocationInfeasible, got %v", err)
	}

	// All-or-nothing: the task that did fit must not stay behind.
	if got := tt.TaskCount(); got != 0 {
		t.Errorf("task count = %d after failed allocation, want 0", got)
	}
	if !tt.Snapshot().Equal(before) {
		t.Error("failed allocation left the timetable changed")
	}
	if got := tt.Network().NumPoints(); got != points {
		t.Errorf("network has %d points after failed allocation, want %d", got, points)
	}
}

func TestAllocate_PrecedenceOutOfOrder(t *testing.T) {
	// The successor's window opens first, so greedy insertion places it
	// before its predecessor exists in the timetable. The chain must still
	// hold once both are scheduled.
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0), core.NewRobot(1, 0)}
	pred := core.NewTask(2, 10, 100, 5, 0)
	succ := core.NewTask(1, 0, 100, 5, 0)
	succ.Predecessor = 2
	fleet.Tasks = []*core.Task{pred, succ}
	tt := createTimetable(t, fleet)

	if err := NewTessi(nil, zap.NewNop()).Allocate(fleet, tt); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	var predFinish, succStart float64
	for _, r := range fleet.Robots {
		for _, e := range tt.Line(r.ID) {
			switch e.Task.ID {
			case 2:
				predFinish = e.Finish
			case 1:
				succStart = e.Start
			}
		}
	}
	if !timeEqual(predFinish, 15) {
		t.Fatalf("predecessor finish = %.1f, want 15", predFinish)
	}
	if succStart < predFinish {
		t.Errorf("successor starts at %.1f before predecessor finishes at %.1f",
			succStart, predFinish)
	}
}

func TestAllocate_PaddingReservesSlack(t *testing.T) {
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0)}
	fleet.Tasks = []*core.Task{core.NewTask(1, 0, 100, 10, 0)}
	tt := createTimetable(t, fleet)

	padding := func(task *core.Task) float64 { return 20 }
	if err := NewTessi(padding, zap.NewNop()).Allocate(fleet, tt); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	_, finish, ok := tt.Points(1)
	if !ok {
		t.Fatal("task 1 has no timepoints")
	}
	if got := tt.Network().Upper(finish); !timeEqual(got, 80) {
		t.Errorf("latest-finish bound = %.1f with 20s reserve, want 80", got)
	}
}

func TestAllocate_PaddingSkippedWhenTight(t *testing.T) {
	// Window [0, 12] for a 10s task leaves 2s of freedom; a 20s reserve cannot
	// fit and must be skipped without failing the allocation.
	fleet := core.NewFleet()
	fleet.Robots = []*core.Robot{core.NewRobot(0, 0)}
	fleet.Tasks = []*core.Task{core.NewTask(1, 0, 12, 10, 0)}
	tt := createTimetable(t, fleet)

	padding := func(task *core.Task) float64 { return 20 }
	if err := NewTessi(padding, zap.NewNop()).Allocate(fleet, tt); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	_, finish, _ := tt.Points(1)
	if got := tt.Network().Upper(finish); !timeEqual(got, 12) {
		t.Errorf("latest-finish bound = %.1f, want the original 12", got)
	}
}

func TestBetter_TieBreakOrder(t *testing.T) {
	base := timetable.Eval{Robot: 1, Finish: 10, Successor: core.NoTask}

	if !Better(timetable.Eval{Robot: 2, Finish: 9}, base) {
		t.Error("lower finish must win regardless of robot id")
	}
	if !Better(timetable.Eval{Robot: 0, Finish: 10}, base) {
		t.Error("equal finish must break to lower robot id")
	}
	if !Better(timetable.Eval{Robot: 1, Finish: 10, Successor: 4}, base) {
		t.Error("equal finish and robot must break to earliest successor")
	}
	if Better(base, base) {
		t.Error("an eval must not beat itself")
	}
}
