// Package reflex implements the sub-millisecond reflex worker of the
// adaptive control loop: drains wakeup-latency samples into a
// fixed-bucket histogram, computes P99, tightens the knobs when P99
// exceeds the current regime's ceiling, and relaxes them back toward
// baseline once latency has recovered.
package reflex

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

// tighteningFactor is the 25% tightening step: multiply slice_ns and
// batch_slice_ns by 3/4.
const tighteningFactor = 0.75

// DefaultRelaxStep is the default per-tick relaxation step.
const DefaultRelaxStep = 1 * time.Millisecond

// GoodP99Hold is how long P99 must stay at or below the ceiling before
// relaxation begins.
const GoodP99Hold = 2 * time.Second

// Worker holds the reflex loop's state between polls.
type Worker struct {
	Histogram *telemetry.LatencyHistogram
	Knobs     *knobs.Knobs
	RelaxStep time.Duration

	goodSince   time.Time
	tightened   bool
	lastP99     time.Duration
	lastTighten time.Time
}

// New creates a Worker over the given histogram and knob record.
func New(h *telemetry.LatencyHistogram, k *knobs.Knobs) *Worker {
	return &Worker{
		Histogram: h,
		Knobs:     k,
		RelaxStep: DefaultRelaxStep,
	}
}

// Poll is one reflex iteration: drain samples (the caller is responsible
// for feeding the histogram via Histogram.Add from the sample stream),
// compute P99 against the current regime ceiling, and tighten or relax
// knobs accordingly. regime and ceiling are supplied by the monitor
// worker's latest classification.
func (w *Worker) Poll(now time.Time, regime knobs.Regime, ceiling time.Duration) TickResult {
	p99 := w.Histogram.P99()
	w.lastP99 = p99

	result := TickResult{P99: p99, Regime: regime, Ceiling: ceiling}

	if regime == knobs.Mixed && p99 > ceiling {
		w.tighten(now)
		result.Tightened = true
		w.goodSince = time.Time{}
		return result
	}

	if p99 <= ceiling {
		if w.goodSince.IsZero() {
			w.goodSince = now
		}
		if w.tightened && now.Sub(w.goodSince) >= GoodP99Hold {
			done := w.relaxStep(regime)
			result.Relaxed = true
			if done {
				w.tightened = false
			}
		}
	} else {
		w.goodSince = time.Time{}
	}

	return result
}

// TickResult summarizes one Poll call for telemetry/logging.
type TickResult struct {
	P99       time.Duration
	Regime    knobs.Regime
	Ceiling   time.Duration
	Tightened bool
	Relaxed   bool
}

func (w *Worker) tighten(now time.Time) {
	w.lastTighten = now
	w.tightened = true

	newSlice := time.Duration(float64(w.Knobs.SliceNS()) * tighteningFactor)
	if newSlice < pconst.SliceMin {
		newSlice = pconst.SliceMin
	}
	w.Knobs.SetSliceNS(newSlice)

	newBatch := time.Duration(float64(w.Knobs.BatchSliceNS()) * tighteningFactor)
	if newBatch < pconst.SliceMin {
		newBatch = pconst.SliceMin
	}
	w.Knobs.SetBatchSliceNS(newBatch)
}

// relaxStep moves slice_ns/batch_slice_ns one step back toward the
// regime's baseline, returning true once both have reached it.
func (w *Worker) relaxStep(regime knobs.Regime) bool {
	baseline := knobs.BaselineFor(regime)

	slice := stepToward(w.Knobs.SliceNS(), baseline.SliceNS, w.RelaxStep)
	w.Knobs.SetSliceNS(slice)

	batch := stepToward(w.Knobs.BatchSliceNS(), baseline.BatchSliceNS, w.RelaxStep)
	w.Knobs.SetBatchSliceNS(batch)

	return slice == baseline.SliceNS && batch == baseline.BatchSliceNS
}

func stepToward(cur, target, step time.Duration) time.Duration {
	if cur == target {
		return cur
	}
	if cur < target {
		next := cur + step
		if next > target {
			return target
		}
		return next
	}
	next := cur - step
	if next < target {
		return target
	}
	return next
}

// Tightened reports whether the reflex worker currently believes it has
// the knobs tightened below the regime baseline.
func (w *Worker) Tightened() bool { return w.tightened }

// LastP99 returns the most recently computed P99.
func (w *Worker) LastP99() time.Duration { return w.lastP99 }
