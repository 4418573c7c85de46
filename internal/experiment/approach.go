// Package experiment drives dataset x approach x seed trials over the
// allocation-and-repair engine and records their outcomes.
package experiment

import (
	"fmt"
	"strings"

	"github.com/elektrokombinacija/mrta-research/internal/core"
)

// ParseApproach decomposes an approach name such as
// "tessi-srea-preventive-re-schedule-re-allocate" into the validated
// configuration triple. This happens exactly once, when a trial is
// constructed; the engine itself never sees the string.
func ParseApproach(s string) (core.ApproachConfig, error) {
	rest, ok := cut(s, "tessi")
	if !ok {
		return core.ApproachConfig{}, fmt.Errorf("approach %q: unknown allocator", s)
	}
	cfg := core.ApproachConfig{Allocator: core.Tessi, RiskModel: core.RiskFixed}

	if r, ok := cut(rest, "-srea"); ok {
		cfg.RiskModel = core.RiskSREA
		rest = r
	} else if r, ok := cut(rest, "-dsc"); ok {
		cfg.RiskModel = core.RiskDSC
		rest = r
	}

	if r, ok := cut(rest, "-preventive"); ok {
		cfg.Policy = core.Preventive
		rest = r
	} else if r, ok := cut(rest, "-corrective"); ok {
		cfg.Policy = core.Corrective
		rest = r
	} else {
		return core.ApproachConfig{}, fmt.Errorf("approach %q: missing policy", s)
	}

	if r, ok := cut(rest, "-re-schedule"); ok {
		rest = r
	} else {
		return core.ApproachConfig{}, fmt.Errorf("approach %q: missing re-schedule segment", s)
	}

	switch rest {
	case "-re-allocate":
		cfg.Mechanism = core.ReAllocate
	case "-preempt":
		cfg.Mechanism = core.Preempt
	default:
		return core.ApproachConfig{}, fmt.Errorf("approach %q: unknown mechanism %q", s, strings.TrimPrefix(rest, "-"))
	}

	if err := cfg.Validate(); err != nil {
		return core.ApproachConfig{}, fmt.Errorf("approach %q: %w", s, err)
	}
	return cfg, nil
}

// ApproachName renders the canonical approach string for a configuration.
func ApproachName(cfg core.ApproachConfig) string {
	var b strings.Builder
	b.WriteString("tessi")
	switch cfg.RiskModel {
	case core.RiskSREA:
		b.WriteString("-srea")
	case core.RiskDSC:
		b.WriteString("-dsc")
	}
	fmt.Fprintf(&b, "-%s-re-schedule-%s", cfg.Policy, cfg.Mechanism)
	return b.String()
}

// Approaches lists every valid approach string.
func Approaches() []string {
	var out []string
	for _, rm := range []core.RiskModel{core.RiskFixed, core.RiskSREA, core.RiskDSC} {
		for _, p := range []core.Policy{core.Preventive, core.Corrective} {
			for _, m := range []core.Mechanism{core.ReAllocate, core.Preempt} {
				out = append(out, ApproachName(core.ApproachConfig{
					Allocator: core.Tessi, Policy: p, Mechanism: m, RiskModel: rm,
				}))
			}
		}
	}
	return out
}

func cut(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
