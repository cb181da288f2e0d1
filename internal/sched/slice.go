package sched

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/task"
)

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SliceFor computes the slice length for a task: LAT_CRITICAL and
// INTERACTIVE scale off avg_runtime, clamped to [SLICE_MIN, slice_ns].
// BATCH returns the batch_slice_ns knob unclamped by the guard window;
// Engine's own run loop never enforces slice duration (see Dispatch),
// so it is the caller's job to run the result through
// preempt.Guard.ClampBatchSlice when a guard window may be active — the
// bench GuardClamp scenario is the one caller that does.
func SliceFor(t *task.Context, k *knobs.Knobs) time.Duration {
	ceiling := k.SliceNS()
	switch t.Tier {
	case task.LatCritical:
		raw := time.Duration(float64(t.AvgRuntime) * 1.5)
		return clampDuration(raw, pconst.SliceMin, ceiling)
	case task.Interactive:
		raw := t.AvgRuntime * 2
		return clampDuration(raw, pconst.SliceMin, ceiling)
	default:
		return k.BatchSliceNS()
	}
}

// ScaleBatchSliceForCPUCount scales the batch_slice_ns baseline by CPU
// count at attach time. More CPUs means more batch tasks can run
// concurrently without starving each other, so the ceiling widens
// slightly with core count, capped at 4x the baseline to avoid unbounded
// batch slices on very large hosts.
func ScaleBatchSliceForCPUCount(baseline time.Duration, nCPUs int) time.Duration {
	if nCPUs <= 1 {
		return baseline
	}
	scale := 1.0 + float64(nCPUs-1)*0.05
	if scale > 4 {
		scale = 4
	}
	return time.Duration(float64(baseline) * scale)
}
