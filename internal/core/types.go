// Package core defines domain models for the MRTA repair engine.
package core

import "fmt"

// Policy selects when the repair engine reacts to delays.
type Policy int

const (
	Preventive Policy = iota // Act on predicted delays, before they materialize
	Corrective               // Act only on observed delays
)

func (p Policy) String() string {
	return [...]string{"preventive", "corrective"}[p]
}

// Mechanism selects how a delayed timeline is fixed.
type Mechanism int

const (
	ReAllocate Mechanism = iota // Move displaced tasks to another robot
	Preempt                     // Keep assignments, shift the robot's remaining queue
)

func (m Mechanism) String() string {
	return [...]string{"re-allocate", "preempt"}[m]
}

// RiskModel selects the slack estimator family.
type RiskModel int

const (
	RiskFixed RiskModel = iota // Fixed default margin
	RiskSREA                   // Stochastic quantile-based slack
	RiskDSC                    // Distributed consensus bid scoring
)

func (r RiskModel) String() string {
	return [...]string{"fixed", "srea", "dsc"}[r]
}

// AllocatorKind names the initial allocation algorithm family.
type AllocatorKind int

const (
	Tessi AllocatorKind = iota // Greedy incremental insertion
)

func (a AllocatorKind) String() string {
	return [...]string{"tessi"}[a]
}

// ApproachConfig is the already-decomposed approach triple a trial runs with.
// It replaces runtime string matching: an invalid combination is rejected
// once, at construction.
type ApproachConfig struct {
	Allocator AllocatorKind
	Policy    Policy
	Mechanism Mechanism
	RiskModel RiskModel
}

// Validate checks that every field holds a known enum value.
func (c ApproachConfig) Validate() error {
	if c.Allocator != Tessi {
		return fmt.Errorf("unknown allocator %d", int(c.Allocator))
	}
	if c.Policy != Preventive && c.Policy != Corrective {
		return fmt.Errorf("unknown policy %d", int(c.Policy))
	}
	if c.Mechanism != ReAllocate && c.Mechanism != Preempt {
		return fmt.Errorf("unknown mechanism %d", int(c.Mechanism))
	}
	if c.RiskModel != RiskFixed && c.RiskModel != RiskSREA && c.RiskModel != RiskDSC {
		return fmt.Errorf("unknown risk model %d", int(c.RiskModel))
	}
	return nil
}

func (c ApproachConfig) String() string {
	return fmt.Sprintf("%s-%s-%s-%s", c.Allocator, c.RiskModel, c.Policy, c.Mechanism)
}
