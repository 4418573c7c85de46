package core

import "testing"

func TestApproachConfig_Validate(t *testing.T) {
	good := ApproachConfig{Allocator: Tessi, Policy: Preventive, Mechanism: Preempt, RiskModel: RiskSREA}
	if err := good.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
	for _, bad := range []ApproachConfig{
		{Allocator: AllocatorKind(3)},
		{Policy: Policy(5)},
		{Mechanism: Mechanism(5)},
		{RiskModel: RiskModel(9)},
	} {
		if err := bad.Validate(); err == nil {
			t.Errorf("invalid config %+v accepted", bad)
		}
	}
}

func TestApproachConfig_String(t *testing.T) {
	cfg := ApproachConfig{Allocator: Tessi, Policy: Corrective, Mechanism: ReAllocate, RiskModel: RiskDSC}
	if got := cfg.String(); got != "tessi-dsc-corrective-re-allocate" {
		t.Errorf("String = %q", got)
	}
}

func TestFleet_Validate(t *testing.T) {
	fleet := NewFleet()
	fleet.Robots = []*Robot{NewRobot(0, 0)}
	fleet.Tasks = []*Task{NewTask(1, 0, 100, 10, 0)}
	if err := fleet.Validate(); err != nil {
		t.Fatalf("valid fleet rejected: %v", err)
	}

	dup := NewFleet()
	dup.Robots = fleet.Robots
	dup.Tasks = []*Task{NewTask(1, 0, 100, 10, 0), NewTask(1, 0, 100, 5, 0)}
	if err := dup.Validate(); err == nil {
		t.Error("duplicate task ids accepted")
	}

	tight := NewFleet()
	tight.Robots = fleet.Robots
	tight.Tasks = []*Task{NewTask(1, 0, 8, 10, 0)}
	if err := tight.Validate(); err == nil {
		t.Error("window smaller than duration accepted")
	}

	dangling := NewFleet()
	dangling.Robots = fleet.Robots
	chained := NewTask(1, 0, 100, 10, 0)
	chained.Predecessor = 9
	dangling.Tasks = []*Task{chained}
	if err := dangling.Validate(); err == nil {
		t.Error("unknown predecessor accepted")
	}

	empty := NewFleet()
	empty.Tasks = fleet.Tasks
	if err := empty.Validate(); err == nil {
		t.Error("fleet without robots accepted")
	}
}

func TestFleet_ValidateCycle(t *testing.T) {
	fleet := NewFleet()
	fleet.Robots = []*Robot{NewRobot(0, 0)}
	a := NewTask(1, 0, 100, 10, 0)
	b := NewTask(2, 0, 100, 10, 0)
	a.Predecessor = 2
	b.Predecessor = 1
	fleet.Tasks = []*Task{a, b}
	if err := fleet.Validate(); err == nil {
		t.Error("precedence cycle accepted")
	}
}

func TestTask_Accessors(t *testing.T) {
	task := NewTask(1, 5, 65, 10, 3)
	if task.HasPredecessor() {
		t.Error("fresh task has a predecessor")
	}
	if got := task.Window(); got != 60 {
		t.Errorf("Window = %g, want 60", got)
	}
	task.Predecessor = 7
	if !task.HasPredecessor() {
		t.Error("chained task reports no predecessor")
	}
}
