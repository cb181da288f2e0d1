// Package task defines the per-thread scheduling context that the
// classifier, dispatch queues, and preemption engine all read and
// mutate. A Context is created on first entry and lives for the
// thread's lifetime; it never outlives the thread and never
// references other tasks.
package task

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/pconst"
)

// Tier is the behavioral class assigned to a task.
type Tier int

const (
	Batch Tier = iota
	Interactive
	LatCritical
)

func (t Tier) String() string {
	switch t {
	case Batch:
		return "BATCH"
	case Interactive:
		return "INTERACTIVE"
	case LatCritical:
		return "LAT_CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Path tags the dispatch path of the most recent placement.
type Path int

const (
	PathIdle Path = iota
	PathHardKick
	PathSoftKick
)

func (p Path) String() string {
	switch p {
	case PathIdle:
		return "idle"
	case PathHardKick:
		return "hard-kick"
	case PathSoftKick:
		return "soft-kick"
	default:
		return "unknown"
	}
}

// Context is the per-thread scheduling state. No field is recomputed
// from another on read, so callers must call the mutators in
// internal/classify and internal/dispatch to keep derived fields
// (Score, EffectiveWeight) consistent.
type Context struct {
	ShortName string // up to pconst.ShortNameLen bytes, profile-cache key

	Tier Tier

	WakeupFreqEWMA float64       // wakeups per 100ms, capped at pconst.MaxWakeupFreq
	CSWRateEWMA    float64       // voluntary csw per 100ms, capped at pconst.MaxCSWRate
	AvgRuntime     time.Duration
	RuntimeDevEWMA time.Duration // mean absolute deviation, optional jitter term

	Score int // latency-criticality score, 0-255

	Age int // wakeup cycles, capped at pconst.MaxAge

	PrevVoluntaryCSW uint64

	LastWake  time.Time
	LastRun   time.Time
	SleepedAt time.Time

	AwakeVtime time.Duration // reset to 0 on wake

	EffectiveWeight int
	LastPath        Path

	// dispatch bookkeeping, read by internal/dispatch
	DsqVtime time.Duration
}

// New creates a fresh task context for a short name that has never been
// seen before. The first-seen fast path relies on Age starting at 0 and
// Tier starting at Interactive.
func New(shortName string) *Context {
	if len(shortName) > pconst.ShortNameLen {
		shortName = shortName[:pconst.ShortNameLen]
	}
	return &Context{
		ShortName:       shortName,
		Tier:            Interactive,
		AvgRuntime:      pconst.DefaultRuntime,
		EffectiveWeight: pconst.DefaultNiceWeight * pconst.WeightMulInteractive / 128,
	}
}

// BumpAge advances the age counter up to its cap.
func (c *Context) BumpAge() {
	if c.Age < pconst.MaxAge {
		c.Age++
	}
}

// ResetAwakeVtime clears accumulated awake vtime on wake.
func (c *Context) ResetAwakeVtime() {
	c.AwakeVtime = 0
}

// AwakeVtimeCap returns the per-tier cap on awake vtime.
func (c *Context) AwakeVtimeCap() time.Duration {
	switch c.Tier {
	case LatCritical:
		return pconst.AwakeVtimeCapLatCritical
	case Interactive:
		return pconst.AwakeVtimeCapInteractive
	default:
		return pconst.AwakeVtimeCapBatch
	}
}

// TierMultiplier returns the effective-weight multiplier for the task's
// current tier.
func (c *Context) TierMultiplier() int {
	switch c.Tier {
	case LatCritical:
		return pconst.WeightMulLatCritical
	case Interactive:
		return pconst.WeightMulInteractive
	default:
		return pconst.WeightMulBatch
	}
}
