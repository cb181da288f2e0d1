// Package knobs implements the single shared tuning-knob record:
// initialized by the kernel core at attach, overwritten by the
// monitor/reflex workers on every control tick, and read without
// locking on every scheduling decision. Torn reads of individual
// fields are tolerated — each field has an independent effect on
// dispatch — so every field is its own atomic rather than being
// guarded by a struct-wide lock.
package knobs

import (
	"sync/atomic"
	"time"

	"github.com/wllclngn/pandemonium/internal/pconst"
)

// Knobs is the live, lock-free tuning record. Durations are stored as
// nanosecond int64s under the hood so they can use atomic.Int64 directly.
type Knobs struct {
	sliceNS         atomic.Int64 // base interactive slice ceiling
	preemptThreshNS atomic.Int64 // runtime over which a batch task may be preempted
	lagScaleX100    atomic.Int64 // lag_scale, fixed-point *100
	batchSliceNS    atomic.Int64 // batch ceiling
	timerIntervalNS atomic.Int64 // periodic preemption scan period, 0 disables
	demoteThreshNS  atomic.Int64 // a knob, not a constant
}

// Snapshot is a point-in-time, non-atomic copy for logging/telemetry.
type Snapshot struct {
	SliceNS         time.Duration
	PreemptThreshNS time.Duration
	LagScale        float64
	BatchSliceNS    time.Duration
	TimerIntervalNS time.Duration
	DemoteThreshNS  time.Duration
}

// New builds a Knobs record initialized to the MIXED regime baseline,
// the kernel core's default at attach time.
func New() *Knobs {
	k := &Knobs{}
	k.Apply(MixedBaseline())
	k.demoteThreshNS.Store(int64(pconst.BatchDemoteDefaultThreshold))
	return k
}

// Apply writes the slice, preempt-threshold, batch-slice and timer-interval
// fields of baseline atomically (each field independently; readers may
// observe a momentarily mixed set). P99Ceiling is not stored.
func (k *Knobs) Apply(b Baseline) {
	k.sliceNS.Store(int64(b.SliceNS))
	k.preemptThreshNS.Store(int64(b.PreemptThreshNS))
	k.batchSliceNS.Store(int64(b.BatchSliceNS))
	k.timerIntervalNS.Store(int64(b.TimerIntervalNS))
}

func (k *Knobs) SliceNS() time.Duration         { return time.Duration(k.sliceNS.Load()) }
func (k *Knobs) PreemptThreshNS() time.Duration { return time.Duration(k.preemptThreshNS.Load()) }
func (k *Knobs) BatchSliceNS() time.Duration    { return time.Duration(k.batchSliceNS.Load()) }
func (k *Knobs) TimerIntervalNS() time.Duration { return time.Duration(k.timerIntervalNS.Load()) }
func (k *Knobs) DemoteThreshNS() time.Duration  { return time.Duration(k.demoteThreshNS.Load()) }

func (k *Knobs) SetSliceNS(d time.Duration)      { k.sliceNS.Store(int64(d)) }
func (k *Knobs) SetBatchSliceNS(d time.Duration) { k.batchSliceNS.Store(int64(d)) }
func (k *Knobs) SetDemoteThreshNS(d time.Duration) {
	k.demoteThreshNS.Store(int64(d))
}

// LagScale returns the current lag_scale multiplier as a float.
func (k *Knobs) LagScale() float64 {
	return float64(k.lagScaleX100.Load()) / 100
}

// SetLagScale stores lag_scale as fixed-point (*100), avoiding float atomics.
func (k *Knobs) SetLagScale(v float64) {
	k.lagScaleX100.Store(int64(v * 100))
}

// Snapshot copies every field for logging without requiring the caller to
// reason about atomics.
func (k *Knobs) Snapshot() Snapshot {
	return Snapshot{
		SliceNS:         k.SliceNS(),
		PreemptThreshNS: k.PreemptThreshNS(),
		LagScale:        k.LagScale(),
		BatchSliceNS:    k.BatchSliceNS(),
		TimerIntervalNS: k.TimerIntervalNS(),
		DemoteThreshNS:  k.DemoteThreshNS(),
	}
}
