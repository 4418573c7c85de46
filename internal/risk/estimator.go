package risk

import (
	"errors"
	"fmt"

	"github.com/elektrokombinacija/mrta-research/internal/core"
)

// ErrUnavailable means the estimator cannot produce a slack value for the
// task. Callers fall back to DefaultMargin and continue in degraded mode
// rather than failing the trial.
var ErrUnavailable = errors.New("risk model unavailable")

// DefaultMargin is the fixed fallback slack in seconds.
const DefaultMargin = 5.0

// Distribution describes an assumed or historical delay distribution for a
// task, parameterized by its first two moments.
type Distribution struct {
	Mean float64
	Std  float64
}

// Valid reports whether the distribution carries usable parameters.
func (d Distribution) Valid() bool {
	return d.Mean > 0 && d.Std >= 0
}

// Estimator produces a protective slack duration for a task. Estimators are
// interchangeable; the repair engine never branches on the concrete type.
type Estimator interface {
	EstimateSlack(task *core.Task, d Distribution) (float64, error)
	Name() string
}

// FixedMargin always returns a constant slack.
type FixedMargin struct {
	Margin float64
}

func (f FixedMargin) Name() string { return "fixed" }

func (f FixedMargin) EstimateSlack(task *core.Task, d Distribution) (float64, error) {
	if f.Margin < 0 {
		return 0, fmt.Errorf("negative margin %g: %w", f.Margin, ErrUnavailable)
	}
	return f.Margin, nil
}

// Quantile is the srea estimator: slack covers delays up to the P-quantile of
// a LogNormal fit to the delay distribution, beyond its expectation.
type Quantile struct {
	P float64 // e.g. 0.95
}

func (q Quantile) Name() string { return "srea" }

func (q Quantile) EstimateSlack(task *core.Task, d Distribution) (float64, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("task %d has no delay distribution: %w", task.ID, ErrUnavailable)
	}
	if q.P <= 0 || q.P >= 1 {
		return 0, fmt.Errorf("quantile %g out of range: %w", q.P, ErrUnavailable)
	}
	ln := LogNormalFromMeanStd(d.Mean, d.Std)
	slack := ln.Quantile(q.P) - d.Mean
	if slack < 0 {
		slack = 0
	}
	return slack, nil
}

// History supplies aggregated observed delays, e.g. from the experiment
// store's delay table.
type History interface {
	AverageDelay(dataset string) (avg float64, samples int, err error)
}

// Historical estimates slack as the average of previously observed delays for
// the dataset. With no observations it is unavailable.
type Historical struct {
	Dataset string
	Hist    History
}

func (h Historical) Name() string { return "historical" }

func (h Historical) EstimateSlack(task *core.Task, d Distribution) (float64, error) {
	if h.Hist == nil {
		return 0, fmt.Errorf("no history source: %w", ErrUnavailable)
	}
	avg, samples, err := h.Hist.AverageDelay(h.Dataset)
	if err != nil {
		return 0, fmt.Errorf("query delay history: %w", ErrUnavailable)
	}
	if samples == 0 {
		return 0, fmt.Errorf("no recorded delays for %q: %w", h.Dataset, ErrUnavailable)
	}
	return avg, nil
}
