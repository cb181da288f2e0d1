// Package monitor implements the 1-second monitor worker of the adaptive
// control loop: regime classification with Schmitt triggering, baseline
// knob writes (deferring to reflex tightening when active), stability
// hibernation, profile-cache ingestion/prediction, and one-line
// telemetry emission.
package monitor

import (
	"fmt"
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/profilecache"
	"github.com/wllclngn/pandemonium/internal/reflex"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

// StableTicksForHibernation is the number of consecutive stable ticks
// required before stability hibernation engages.
const StableTicksForHibernation = 10

// Worker holds the monitor loop's cross-tick state.
type Worker struct {
	Knobs   *knobs.Knobs
	Profile *profilecache.Cache

	regime        knobs.Regime
	pendingRegime knobs.Regime
	pendingTicks  int
	hasPending    bool

	stableTicks int
	hibernating bool
}

// New creates a Worker starting in the MIXED regime, the kernel core's
// attach-time default, matching knobs.New.
func New(k *knobs.Knobs, cache *profilecache.Cache) *Worker {
	return &Worker{Knobs: k, Profile: cache, regime: knobs.Mixed}
}

// Regime returns the currently active (committed) regime.
func (w *Worker) Regime() knobs.Regime { return w.regime }

// Hibernating reports whether stability hibernation is currently active.
func (w *Worker) Hibernating() bool { return w.hibernating }

// Tick runs one monitor iteration. idleFraction is the aggregate idle
// fraction computed from per-CPU stats; reflexTightened reports whether
// the reflex worker currently holds the knobs tightened below baseline;
// guardFired feeds stability hibernation.
func (w *Worker) Tick(now time.Time, idleFraction float64, reflexTightened bool, guardFired bool) TickResult {
	classified := knobs.ClassifyIdle(idleFraction)
	transitioned := w.classifyWithSchmittTrigger(classified)

	if !reflexTightened {
		w.Knobs.Apply(knobs.BaselineFor(w.regime))
	}

	stable := !transitioned && !guardFired && !reflexTightened
	if stable {
		w.stableTicks++
	} else {
		w.stableTicks = 0
	}
	w.hibernating = w.stableTicks >= StableTicksForHibernation

	return TickResult{
		Regime:       w.regime,
		Transitioned: transitioned,
		Hibernating:  w.hibernating,
	}
}

// classifyWithSchmittTrigger requires a classification to persist for
// two consecutive ticks before committing. It returns whether a
// transition actually committed this call.
func (w *Worker) classifyWithSchmittTrigger(classified knobs.Regime) bool {
	if classified == w.regime {
		w.hasPending = false
		w.pendingTicks = 0
		return false
	}
	if w.hasPending && w.pendingRegime == classified {
		w.pendingTicks++
	} else {
		w.hasPending = true
		w.pendingRegime = classified
		w.pendingTicks = 1
	}
	if w.pendingTicks >= 2 {
		w.regime = classified
		w.hasPending = false
		w.pendingTicks = 0
		return true
	}
	return false
}

// TickResult summarizes one monitor Tick for logging/tests.
type TickResult struct {
	Regime       knobs.Regime
	Transitioned bool
	Hibernating  bool
}

// IngestObservations folds a batch of stop-time observations into the
// profile cache mirror.
func (w *Worker) IngestObservations(obs []profilecache.Observation, now time.Time) {
	for _, o := range obs {
		w.Profile.Ingest(o, now)
	}
}

// PollInterval returns the monitor's current cadence: 1s normally,
// doubled (2s) once stability hibernation has engaged.
func (w *Worker) PollInterval() time.Duration {
	if w.hibernating {
		return 2 * time.Second
	}
	return 1 * time.Second
}

// ReflexPollDivisor returns the factor by which the reflex worker should
// slow its polling once hibernating.
func (w *Worker) ReflexPollDivisor() int {
	if w.hibernating {
		return 4
	}
	return 1
}

// Line formats the one-line telemetry record emitted each monitor tick.
// idlePct and ioSleepPct are the same host CPU sample (0-100) the caller
// fed into regime classification for this tick.
func Line(now time.Time, regime knobs.Regime, totals telemetry.Totals, reflexResult reflex.TickResult,
	profileTotal, profileConfident int, idlePct, ioSleepPct float64, k knobs.Snapshot, guardCount uint64) string {
	format := "d/s=%d idle=%.1f%% shared=%d preempt=%d keep=%d H/S=%d/%d W/R=%d/%d avg_wake=%s p99=%s " +
		"profile=%d/%d io_sleep=%.1f%% slice=%s guard=%d [%s]"
	return fmt.Sprintf(
		format,
		totals.Dispatches,
		idlePct,
		totals.EnqueueShared,
		totals.Preemptions,
		totals.Dispatches-totals.Preemptions,
		totals.HardKicks, totals.SoftKicks,
		totals.WakeupEvents, totals.ReEnqueueEvents,
		totals.AvgLatency(),
		reflexResult.P99,
		profileTotal, profileConfident,
		ioSleepPct,
		k.SliceNS,
		guardCount,
		regime,
	)
}
