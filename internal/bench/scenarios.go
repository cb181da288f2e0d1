package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/wllclngn/pandemonium/internal/classify"
	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/monitor"
	"github.com/wllclngn/pandemonium/internal/profilecache"
	"github.com/wllclngn/pandemonium/internal/sched"
	"github.com/wllclngn/pandemonium/internal/task"
)

// newEngine builds a fresh, independent simulation for one scenario.
func newEngine(nrCPUs, nrNodes int, extraCompositors []string) (*sched.Engine, *knobs.Knobs) {
	k := knobs.New()
	c := classify.New(extraCompositors)
	e := sched.New(nrCPUs, nrNodes, k, c)
	e.Init()
	return e, k
}

func finding(check, expected, actual string, ok bool) Finding {
	return Finding{Check: check, Expected: expected, Actual: actual, OK: ok}
}

func result(name string, findings []Finding, metrics map[string]float64) ScenarioResult {
	passed := true
	for _, f := range findings {
		if !f.OK {
			passed = false
			break
		}
	}
	return ScenarioResult{Name: name, Passed: passed, Findings: findings, Metrics: metrics}
}

// --- Scenario 1: single idle CPU system ---

type SingleIdleCPU struct{}

func (SingleIdleCPU) Name() string { return "single_idle_cpu" }

func (SingleIdleCPU) Run(ctx context.Context) ScenarioResult {
	e, _ := newEngine(1, 1, nil)
	now := time.Now()
	t := e.Enable("prober", nil)

	var firstPath task.Path
	for i := 0; i < 3; i++ {
		now = now.Add(10 * time.Millisecond)
		e.Runnable(0, t)
		e.Wake(t, now, uint64(i+1), 0)
		if i == 0 {
			firstPath = t.LastPath
		}
		got := e.Dispatch(0, now)
		if got == nil {
			got = t
		}
		e.Running(0, got, now)
		now = now.Add(time.Millisecond)
		e.Stopping(0, got, now)
		// Settle the CPU back to idle before the next wake, matching a
		// single-idle-CPU system between bursts of activity.
		e.Dispatch(0, now)
	}

	findings := []Finding{
		finding("placement_path", "idle", firstPath.String(), firstPath == task.PathIdle),
		finding("tier_after_3_wakeups", "INTERACTIVE or LAT_CRITICAL", t.Tier.String(),
			t.Tier == task.Interactive || t.Tier == task.LatCritical),
		finding("score_threshold", ">= 8", fmt.Sprintf("%d", t.Score), t.Score >= 8),
	}
	return result("single_idle_cpu", findings, map[string]float64{"final_score": float64(t.Score)})
}

// --- Scenario 2: contention ---

type Contention struct {
	NrCPUs int
}

func (Contention) Name() string { return "contention" }

func (s Contention) Run(ctx context.Context) ScenarioResult {
	nrCPUs := s.NrCPUs
	if nrCPUs < 2 {
		nrCPUs = 4
	}
	e, k := newEngine(nrCPUs, 1, nil)
	k.Apply(knobs.MixedBaseline())

	now := time.Now()

	batch := make([]*task.Context, nrCPUs-1)
	for i := range batch {
		batch[i] = e.Enable(fmt.Sprintf("cpubound-%d", i), nil)
		batch[i].Tier = task.Batch
		e.Runnable(i, batch[i])
		e.Wake(batch[i], now, 0, i)
		got := e.Dispatch(i, now)
		if got != nil {
			e.Running(i, got, now)
		}
	}

	prober := e.Enable("prober", nil)
	var latencies []time.Duration
	preemptsBefore := e.Stats.Aggregate().Preemptions

	for i := 0; i < 20; i++ {
		now = now.Add(10 * time.Millisecond)
		wakeTime := now
		e.Runnable(nrCPUs-1, prober)
		e.Wake(prober, wakeTime, uint64(i+1), nrCPUs-1)
		got := e.Dispatch(nrCPUs-1, now)
		if got == nil {
			got = prober
		}
		runTime := now.Add(time.Microsecond)
		e.Running(nrCPUs-1, got, runTime)
		latencies = append(latencies, runTime.Sub(wakeTime))
		e.Stopping(nrCPUs-1, got, runTime.Add(time.Millisecond))
		e.PeriodicScan(now)
	}

	preemptsAfter := e.Stats.Aggregate().Preemptions
	p99 := percentileOf(latencies, 0.99)

	findings := []Finding{
		finding("p99_wake_latency", "< 10ms", p99.String(), p99 < 10*time.Millisecond),
		finding("batch_preempts_observed", ">= 1", fmt.Sprintf("%d", preemptsAfter-preemptsBefore), preemptsAfter > preemptsBefore || nrCPUs <= 2),
		finding("prober_tier", "INTERACTIVE or LAT_CRITICAL", prober.Tier.String(),
			prober.Tier == task.Interactive || prober.Tier == task.LatCritical),
	}
	return result("contention", findings, map[string]float64{"p99_ns": float64(p99.Nanoseconds())})
}

func percentileOf(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

// --- Scenario 3: compositor boost ---

type CompositorBoost struct{}

func (CompositorBoost) Name() string { return "compositor_boost" }

func (CompositorBoost) Run(ctx context.Context) ScenarioResult {
	e, k := newEngine(2, 1, nil)
	now := time.Now()

	t := e.Enable("kwin_wayland", nil)
	e.Runnable(0, t)
	e.Wake(t, now, 1, 0)
	now = now.Add(time.Millisecond)
	e.Wake(t, now, 2, 0)

	slice := sched.SliceFor(t, k)

	findings := []Finding{
		finding("tier_after_classifying_wake", "LAT_CRITICAL", t.Tier.String(), t.Tier == task.LatCritical),
		finding("slice_bounded_by_slice_ns", "<= slice_ns", slice.String(), slice <= k.SliceNS()),
	}
	return result("compositor_boost", findings, nil)
}

// --- Scenario 4: regime transition ---

type RegimeTransition struct{}

func (RegimeTransition) Name() string { return "regime_transition" }

func (RegimeTransition) Run(ctx context.Context) ScenarioResult {
	k := knobs.New()
	cache := profilecache.New(0)
	mon := monitor.New(k, cache)

	now := time.Now()
	var transientMixedTicks int
	var sawHeavy bool

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		res := mon.Tick(now, 0.80, false, false)
		if res.Regime == knobs.Mixed {
			transientMixedTicks++
		}
	}
	initialRegime := mon.Regime()

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		res := mon.Tick(now, 0.05, false, false)
		if res.Regime == knobs.Mixed {
			transientMixedTicks++
		}
		if res.Regime == knobs.Heavy {
			sawHeavy = true
		}
	}
	finalRegime := mon.Regime()

	findings := []Finding{
		finding("initial_regime", "LIGHT", initialRegime.String(), initialRegime == knobs.Light),
		finding("final_regime", "HEAVY", finalRegime.String(), finalRegime == knobs.Heavy && sawHeavy),
		finding("transient_mixed_ticks", "<= 1", fmt.Sprintf("%d", transientMixedTicks), transientMixedTicks <= 1),
		finding("timer_interval_heavy", "5ms", k.TimerIntervalNS().String(), k.TimerIntervalNS() == 5*time.Millisecond),
	}
	return result("regime_transition", findings, nil)
}

// --- Scenario 5: guard clamp ---

type GuardClamp struct{}

func (GuardClamp) Name() string { return "guard_clamp" }

func (GuardClamp) Run(ctx context.Context) ScenarioResult {
	e, k := newEngine(1, 1, nil)
	now := time.Now()

	// Saturate the single CPU so the next non-batch wake has no idle CPU
	// to land on. A long-running, low-wakeup-frequency INTERACTIVE task
	// fails tier 2a's short-runtime/high-wakeup-frequency test and falls
	// through to tier 2b, the overflow queue, which arms the guard.
	busy := e.Enable("hog", nil)
	busy.Tier = task.Batch
	e.Runnable(0, busy)
	e.Wake(busy, now, 0, 0)
	got := e.Dispatch(0, now)
	e.Running(0, got, now)

	victim := e.Enable("steady-interactive", nil)
	victim.Tier = task.Interactive
	victim.AvgRuntime = 10 * time.Millisecond
	victim.WakeupFreqEWMA = 1
	wakeTime := now.Add(time.Microsecond)

	clampsBefore := e.Stats.Aggregate().GuardClamps
	e.Runnable(0, victim)
	e.Enqueue(victim, wakeTime, e.Topo.NodeOf(0))
	clampsAfter := e.Stats.Aggregate().GuardClamps

	guardActive := e.Guard.Active(wakeTime)
	clamped, wasClamped := e.Guard.ClampBatchSlice(wakeTime, k.BatchSliceNS())

	findings := []Finding{
		finding("interactive_waiting", "true", fmt.Sprintf("%v", guardActive), guardActive),
		finding("clamped_batch_slice", "<= 200us", clamped.String(), wasClamped && clamped <= 200*time.Microsecond),
		finding("clamp_counter_incremented_once", "+1", fmt.Sprintf("%d", clampsAfter-clampsBefore), clampsAfter-clampsBefore == 1),
	}
	return result("guard_clamp", findings, nil)
}

// --- Scenario 6: profile persistence round-trip ---

type ProfilePersistence struct {
	Dir string
}

func (ProfilePersistence) Name() string { return "profile_persistence" }

func (s ProfilePersistence) Run(ctx context.Context) ScenarioResult {
	path := s.Dir + "/bench_profile_cache.bin"

	cache := profilecache.New(64)
	now := time.Now()

	var obsRuntime time.Duration = 4 * time.Millisecond
	for i := 0; i < 6; i++ {
		cache.Ingest(profilecache.Observation{
			ShortName:  "cc1",
			Tier:       task.Batch,
			AvgRuntime: obsRuntime,
		}, now.Add(time.Duration(i)*time.Second))
	}

	entries := cache.Entries()
	if err := profilecache.Persist(path, entries); err != nil {
		return result("profile_persistence", []Finding{
			finding("persist", "no error", err.Error(), false),
		}, nil)
	}

	loaded, err := profilecache.Load(path)
	if err != nil {
		return result("profile_persistence", []Finding{
			finding("load", "no error", err.Error(), false),
		}, nil)
	}

	reloaded := profilecache.New(64)
	reloaded.LoadPredictions(loaded)
	pred, ok := reloaded.Lookup("cc1")

	findings := []Finding{
		finding("prediction_present_after_restart", "true", fmt.Sprintf("%v", ok), ok),
	}
	if ok {
		diff := pred.AvgRuntime - obsRuntime
		if diff < 0 {
			diff = -diff
		}
		findings = append(findings, finding("avg_runtime_roundtrip", obsRuntime.String(), pred.AvgRuntime.String(), diff < time.Microsecond))
		findings = append(findings, finding("starts_at_tier_batch", "BATCH", pred.Tier.String(), pred.Tier == task.Batch))
	}
	return result("profile_persistence", findings, nil)
}
