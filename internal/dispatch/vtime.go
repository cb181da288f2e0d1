package dispatch

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/task"
)

// Clock tracks the global vtime_now watermark, advanced monotonically
// at each running-task transition.
type Clock struct {
	vtimeNow time.Duration
}

// Now returns the current watermark.
func (c *Clock) Now() time.Duration { return c.vtimeNow }

// Advance moves vtime_now forward by delta (delta must be >= 0).
func (c *Clock) Advance(delta time.Duration) {
	if delta > 0 {
		c.vtimeNow += delta
	}
}

// LagScaleFor computes lag_scale for a task: proportional to wakeup
// frequency, shrinking under queue pressure, capped.
// queueDepth is the depth of the queue the task is about to be inserted
// into.
func LagScaleFor(t *task.Context, queueDepth int, baseLagScale float64) float64 {
	scale := baseLagScale * (1 + t.WakeupFreqEWMA/pconst.MaxWakeupFreq)
	switch {
	case queueDepth > pconst.QueuePressureForce:
		scale = 1
	case queueDepth > pconst.QueuePressureHalve:
		scale /= 2
	}
	if scale > 8 {
		scale = 8
	}
	if scale < 0.1 {
		scale = 0.1
	}
	return scale
}

// Deadline computes dl = dsq_vtime + awake_vtime, first flooring dsq_vtime
// at vtime_now - LAG_CAP*lag_scale so long sleeps cannot grant unbounded
// priority.
func Deadline(c *Clock, t *task.Context, lagScale float64) time.Duration {
	floor := c.vtimeNow - time.Duration(float64(pconst.LagCap)*lagScale)
	if t.DsqVtime < floor {
		t.DsqVtime = floor
	}
	return t.DsqVtime + t.AwakeVtime
}

// ChargeVtime implements the stopping-callback vtime charge:
// delta_vtime = (slice << 7) / effective_weight, applied to both
// dsq_vtime and awake_vtime, with the task's tier-specific awake-vtime
// cap enforced.
func ChargeVtime(t *task.Context, slice time.Duration) {
	weight := t.EffectiveWeight
	if weight <= 0 {
		weight = pconst.DefaultNiceWeight
	}
	delta := time.Duration((int64(slice) << 7) / int64(weight))
	t.DsqVtime += delta
	t.AwakeVtime += delta
	if cap := t.AwakeVtimeCap(); t.AwakeVtime > cap {
		t.AwakeVtime = cap
	}
}

// EffectiveWeight computes nice_weight * tier_multiplier / 128.
func EffectiveWeight(niceWeight int, t task.Tier) int {
	mul := pconst.WeightMulBatch
	switch t {
	case task.LatCritical:
		mul = pconst.WeightMulLatCritical
	case task.Interactive:
		mul = pconst.WeightMulInteractive
	}
	return niceWeight * mul / 128
}
