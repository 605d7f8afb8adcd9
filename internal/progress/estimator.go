// Package progress derives overall and per-experiment progress and ETA from
// execution state snapshots, and renders them for plain terminals.
package progress

import (
	"sync"
	"time"

	"github.com/randalmurphal/hilo/internal/state"
)

const (
	// DefaultIterationsPerExperiment is assumed when a plan gives no estimate.
	DefaultIterationsPerExperiment = 10
	// DefaultIterationDuration is assumed until an iteration completes.
	DefaultIterationDuration = 2 * time.Minute
	// DefaultRateWindow is the number of completion times kept for the rate.
	DefaultRateWindow = 10
)

// Options configures an Estimator.
type Options struct {
	DefaultIterationsPerExperiment int
	DefaultIterationDuration       time.Duration
	RateWindow                     int
}

// DefaultOptions returns the estimator defaults.
func DefaultOptions() Options {
	return Options{
		DefaultIterationsPerExperiment: DefaultIterationsPerExperiment,
		DefaultIterationDuration:       DefaultIterationDuration,
		RateWindow:                     DefaultRateWindow,
	}
}

// Estimate is one progress reading.
type Estimate struct {
	// Overall is the fraction of the whole queue done, in [0,1].
	Overall float64 `json:"overall"`
	// Current is the fraction of the current experiment done, in [0,1].
	Current float64 `json:"current"`
	// ETA is the estimated time until the queue finishes.
	ETA time.Duration `json:"eta"`
	// Rate is iterations per second over the sliding window, 0 if unknown.
	Rate float64 `json:"rate"`
	// Measured is false while the ETA still rests on configured defaults.
	Measured bool `json:"measured"`
}

// Estimator turns snapshots into progress readings. Readings for one
// experiment never decrease and never fall below completed/total.
type Estimator struct {
	mu sync.Mutex

	opts      Options
	estimates []int

	current map[int]float64
	overall map[int]float64

	// completions holds the most recent iteration completion times.
	completions []time.Time
	startedAt   time.Time
	now         func() time.Time
}

// NewEstimator creates an estimator. Zero option fields take defaults.
func NewEstimator(opts Options) *Estimator {
	if opts.DefaultIterationsPerExperiment <= 0 {
		opts.DefaultIterationsPerExperiment = DefaultIterationsPerExperiment
	}
	if opts.DefaultIterationDuration <= 0 {
		opts.DefaultIterationDuration = DefaultIterationDuration
	}
	if opts.RateWindow < 2 {
		opts.RateWindow = DefaultRateWindow
	}
	return &Estimator{
		opts:    opts,
		current: make(map[int]float64),
		overall: make(map[int]float64),
		now:     time.Now,
	}
}

// SetPlan records the estimated iteration count of every queued experiment,
// in queue order. Non-positive entries fall back to the default.
func (e *Estimator) SetPlan(estimates []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.estimates = append([]int(nil), estimates...)
}

// Start marks the beginning of the run for rate calculation.
func (e *Estimator) Start(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startedAt = at
	e.completions = e.completions[:0]
}

// ObserveIteration records an iteration completion time.
func (e *Estimator) ObserveIteration(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.completions = append(e.completions, at)
	if len(e.completions) > e.opts.RateWindow {
		e.completions = e.completions[len(e.completions)-e.opts.RateWindow:]
	}
}

// Estimate computes a progress reading from snap.
func (e *Estimator) Estimate(snap state.Snapshot) Estimate {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := snap.TotalExperiments
	if total <= 0 {
		return Estimate{}
	}

	completed := min(max(snap.CompletedExperiments, 0), total)
	floor := float64(completed) / float64(total)
	idx := snap.CurrentExperiment

	var current, remainingInCurrent float64
	if idx > 0 {
		estimate := snap.TotalIterations
		if estimate <= 0 {
			estimate = e.iterationsFor(idx)
		}
		raw := (float64(snap.CompletedIterations) + clamp(snap.IterationFraction)) / float64(estimate)
		current = max(clamp(raw), e.current[idx])
		e.current[idx] = current
		if idx > completed {
			remainingInCurrent = max(float64(estimate)-float64(snap.CompletedIterations)-snap.IterationFraction, 0)
		}
	}

	// The current experiment only contributes while it is unfinished.
	inFlight := 0.0
	if idx > completed {
		inFlight = current
	}
	overall := clamp((float64(completed) + inFlight) / float64(total))
	overall = max(overall, floor, e.overall[idx])
	e.overall[idx] = overall

	remaining := remainingInCurrent
	first := max(idx, completed) + 1
	for i := first; i <= total; i++ {
		remaining += float64(e.iterationsFor(i))
	}

	perIteration, measured := e.perIteration()
	est := Estimate{
		Overall:  overall,
		Current:  current,
		ETA:      time.Duration(remaining * float64(perIteration)),
		Measured: measured,
	}
	if measured {
		est.Rate = 1 / perIteration.Seconds()
	}
	return est
}

// Forget drops remembered readings. Call between runs.
func (e *Estimator) Forget() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = make(map[int]float64)
	e.overall = make(map[int]float64)
	e.completions = nil
}

// perIteration returns the average iteration duration over the window.
func (e *Estimator) perIteration() (time.Duration, bool) {
	switch n := len(e.completions); {
	case n >= 2:
		span := e.completions[n-1].Sub(e.completions[0])
		if span > 0 {
			return span / time.Duration(n-1), true
		}
	case n == 1 && !e.startedAt.IsZero():
		if span := e.completions[0].Sub(e.startedAt); span > 0 {
			return span, true
		}
	}
	return e.opts.DefaultIterationDuration, false
}

// iterationsFor returns the iteration estimate for the 1-based experiment
// index. Before any iteration completes every experiment is assumed to take
// the plan's average.
func (e *Estimator) iterationsFor(index int) int {
	if len(e.completions) == 0 {
		return e.averageIterations()
	}
	if index >= 1 && index <= len(e.estimates) && e.estimates[index-1] > 0 {
		return e.estimates[index-1]
	}
	return e.opts.DefaultIterationsPerExperiment
}

func (e *Estimator) averageIterations() int {
	sum, n := 0, 0
	for _, v := range e.estimates {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return e.opts.DefaultIterationsPerExperiment
	}
	return max((sum+n/2)/n, 1)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
