// Package classify implements the behavioral classifier: age-adaptive
// EWMA smoothing of wakeup frequency and voluntary context-switch rate,
// the latency-criticality score, and the BATCH/INTERACTIVE/LAT_CRITICAL
// tiering rules, including the compositor boost and first-seen fast
// path.
//
// The EWMA folds use the same age-dependent coefficients as the BPF core
// in bpf/pandemonium.bpf.c, but this package computes them in float64.
// The BPF core folds with integer shifts, so the two sides do not round
// identically and this package's tests do not verify the BPF side's
// fixed-point results.
package classify

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/task"
)

// Classifier holds the mutable set of compositor names that are
// unconditionally promoted to LAT_CRITICAL.
type Classifier struct {
	compositors map[string]bool
}

// New creates a Classifier seeded with the default compositor list plus
// any user-supplied extras (the --compositor flag, repeatable).
func New(extraCompositors []string) *Classifier {
	c := &Classifier{compositors: make(map[string]bool)}
	for _, name := range pconst.DefaultCompositors {
		c.compositors[name] = true
	}
	for _, name := range extraCompositors {
		c.compositors[name] = true
	}
	return c
}

// AddCompositor registers an additional always-LAT_CRITICAL short name.
func (c *Classifier) AddCompositor(name string) {
	c.compositors[name] = true
}

// IsCompositor reports whether name is in the boost list.
func (c *Classifier) IsCompositor(name string) bool {
	return c.compositors[name]
}

// foldEWMA applies age-dependent smoothing in float64 arithmetic.
//   - age < pconst.YoungAgeThreshold: new = old/2 + sample/2
//   - age >= pconst.YoungAgeThreshold: new = old - old/8 + sample/8
func foldEWMA(old, sample float64, age int) float64 {
	if age < pconst.YoungAgeThreshold {
		return old/2 + sample/2
	}
	return old - old/8 + sample/8
}

func clampFloat(v, max float64) float64 {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}

// OnWake runs the classifier at a task's wake event: folds fresh signals
// into the EWMAs, recomputes the score, and retiers the task. Δt is the
// time since the task's previous wake; nvcsw is the current voluntary
// context-switch counter.
//
// Tasks with age < 2 are left as INTERACTIVE with the default runtime
// and no score update (the first-seen fast path) — this avoids a
// division by a near-zero Δt on short-lived processes.
func (c *Classifier) OnWake(t *task.Context, now time.Time, nvcsw uint64) {
	if !t.LastWake.IsZero() {
		dt := now.Sub(t.LastWake)
		if dt <= 0 {
			dt = time.Nanosecond
		}
		if t.Age >= pconst.FirstSeenAge {
			wakeupFreq := 1e8 / float64(dt.Nanoseconds())
			cswDelta := nvcsw - t.PrevVoluntaryCSW
			cswRate := float64(cswDelta) * 1e8 / float64(dt.Nanoseconds())

			t.WakeupFreqEWMA = clampFloat(foldEWMA(t.WakeupFreqEWMA, wakeupFreq, t.Age), pconst.MaxWakeupFreq)
			t.CSWRateEWMA = clampFloat(foldEWMA(t.CSWRateEWMA, cswRate, t.Age), pconst.MaxCSWRate)

			c.recomputeScore(t)
			c.retier(t)
		}
	}
	t.PrevVoluntaryCSW = nvcsw
	t.LastWake = now
	t.ResetAwakeVtime()
	t.BumpAge()

	if c.IsCompositor(t.ShortName) {
		t.Tier = task.LatCritical
	}
}

// effectiveRuntimeMS returns eff = avg_runtime + dev/2, floored at 1ms.
func effectiveRuntimeMS(t *task.Context) float64 {
	eff := t.AvgRuntime.Seconds()*1000 + t.RuntimeDevEWMA.Seconds()*1000/2
	if eff < 1 {
		eff = 1
	}
	return eff
}

// recomputeScore computes lat_cri = (wakeup_freq * csw_rate) / eff_ms,
// capped at 255.
func (c *Classifier) recomputeScore(t *task.Context) {
	score := (t.WakeupFreqEWMA * t.CSWRateEWMA) / effectiveRuntimeMS(t)
	if score > pconst.MaxLatCriScore {
		score = pconst.MaxLatCriScore
	}
	if score < 0 {
		score = 0
	}
	t.Score = int(score)
}

// retier applies the score thresholds. Compositor boost is applied
// separately at the end of OnWake so it always wins regardless of score.
func (c *Classifier) retier(t *task.Context) {
	t.Tier = Classify(t.Score)
}

// Classify maps a raw score to its tier: absent compositor boost and
// profile prediction, tier == classify(lat_cri).
func Classify(score int) task.Tier {
	switch {
	case score >= pconst.ScoreLatCritical:
		return task.LatCritical
	case score >= pconst.ScoreInteractive:
		return task.Interactive
	default:
		return task.Batch
	}
}

// OnSliceEnd applies the batch-demotion path at slice end: tasks with
// mean runtime >= demote_thresh_ns are demoted INTERACTIVE -> BATCH; the
// next wake reclassifies from fresh signals.
func (c *Classifier) OnSliceEnd(t *task.Context, k *knobs.Knobs) {
	if t.Tier == task.Interactive && t.AvgRuntime >= k.DemoteThreshNS() {
		t.Tier = task.Batch
	}
}

// OnEnable seeds a newly-appearing task's initial state, consulting the
// profile-cache prediction (internal/profilecache) if the caller supplies
// one; predicted is nil when no confident profile exists.
func (c *Classifier) OnEnable(t *task.Context, predicted *Prediction) {
	if predicted != nil {
		t.Tier = predicted.Tier
		t.AvgRuntime = predicted.AvgRuntime
		t.EffectiveWeight = predicted.CachedWeight
		return
	}
	t.Tier = task.Interactive
	t.AvgRuntime = pconst.DefaultRuntime
	t.EffectiveWeight = pconst.DefaultNiceWeight * pconst.WeightMulInteractive / 128
}

// Prediction is the seed a confident profile-cache entry supplies to a
// freshly-enabled task.
type Prediction struct {
	Tier         task.Tier
	AvgRuntime   time.Duration
	CachedWeight int
}
