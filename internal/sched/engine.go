// Package sched implements the scheduler callbacks: select-CPU, enqueue,
// dispatch, runnable, running, stopping, tick, enable, init, exit. It is
// the Go-side simulation of the kernel-resident dispatch core, sharing
// constants (internal/pconst) and logic shape with bpf/pandemonium.bpf.c
// so that bench/test-scale runs and the invariant tests in this package
// exercise the same algorithm the BPF object runs in the kernel.
package sched

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/classify"
	"github.com/wllclngn/pandemonium/internal/dispatch"
	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/preempt"
	"github.com/wllclngn/pandemonium/internal/task"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

// CPUState tracks what a single CPU is currently running.
type CPUState struct {
	Current      *task.Context
	RunningSince time.Time
	Idle         bool
}

// Engine owns one running instance of the dispatch core: topology,
// queues, vtime clock, stats, the classifier, and the preemption guard.
type Engine struct {
	Topo       *Topology
	Queues     *dispatch.Queues
	Clock      *dispatch.Clock
	Stats      *telemetry.Stats
	Stream     *telemetry.Stream
	Knobs      *knobs.Knobs
	Classifier *classify.Classifier
	Guard      *preempt.Guard
	Scanner    *preempt.Scanner

	cpus []CPUState
}

// New builds an Engine sized for nCPUs across nNodes.
func New(nCPUs, nNodes int, k *knobs.Knobs, c *classify.Classifier) *Engine {
	e := &Engine{
		Topo:       NewTopology(nCPUs, nNodes),
		Queues:     dispatch.NewQueues(nCPUs, nNodes),
		Clock:      &dispatch.Clock{},
		Stats:      telemetry.NewStats(nCPUs),
		Stream:     telemetry.NewStream(4096),
		Knobs:      k,
		Classifier: c,
		Guard:      &preempt.Guard{},
		cpus:       make([]CPUState, nCPUs),
	}
	e.Scanner = preempt.NewScanner(k)
	for i := range e.cpus {
		e.cpus[i].Idle = true
	}
	return e
}

// Init prepares the engine for attach: scales the batch slice ceiling by
// CPU count from the baseline already applied by knobs.New.
func (e *Engine) Init() {
	base := e.Knobs.BatchSliceNS()
	e.Knobs.SetBatchSliceNS(ScaleBatchSliceForCPUCount(base, e.Topo.NumCPUs()))
}

// Exit tears down the engine. The kernel exit path runs regardless of
// how userspace dies; this Go port's analogue simply drops references
// so the simulated instance can be garbage collected.
func (e *Engine) Exit() {}

// Enable seeds a newly-appearing task's tier/runtime/weight, consulting
// a profile-cache prediction if one was supplied.
func (e *Engine) Enable(shortName string, predicted *classify.Prediction) *task.Context {
	t := task.New(shortName)
	e.Classifier.OnEnable(t, predicted)
	if predicted != nil {
		e.Stats.CPU(0).ProfileCacheHits++
	}
	return t
}

// Runnable marks a task runnable prior to wake placement, incrementing
// the wakeup-events counter.
func (e *Engine) Runnable(cpu int, t *task.Context) {
	e.Stats.CPU(cpu).WakeupEvents++
}

// Wake is the combined select-CPU + enqueue entry point invoked when a
// task transitions from sleeping to runnable. now is the wake timestamp;
// nvcsw is the task's current voluntary-context-switch counter; wakingCPU
// is the CPU the wakeup happened on (used to pick a node).
func (e *Engine) Wake(t *task.Context, now time.Time, nvcsw uint64, wakingCPU int) {
	e.Classifier.OnWake(t, now, nvcsw)
	node := e.Topo.NodeOf(wakingCPU)

	// Tier 0: wake finds an idle CPU in the node's idle set.
	if cpu := e.Topo.PickIdleInNode(node); cpu >= 0 {
		e.placeIdle(t, cpu, now)
		return
	}

	e.Enqueue(t, now, node)
}

// Enqueue implements the tier 1/2a/2b placement fallback, used both by
// Wake and as the standalone enqueue callback for tasks that re-enter
// the run queue without a fresh wake (e.g. preempted mid-slice).
func (e *Engine) Enqueue(t *task.Context, now time.Time, node int) {
	// Tier 1: enqueue finds a node-local idle CPU.
	if cpu := e.Topo.PickIdleInNode(node); cpu >= 0 {
		e.insertVtimeOrdered(t, cpu, now)
		e.kickIdle(cpu)
		t.LastPath = task.PathIdle
		e.Stats.CPU(cpu).IdleFastPathHits++
		return
	}

	shortRuntime := t.AvgRuntime <= pconst.SliceMin*2
	highWakeupFreq := t.WakeupFreqEWMA >= pconst.MaxWakeupFreq/2

	// Tier 2a: LAT_CRITICAL, or INTERACTIVE wakeup with short runtime or
	// high wakeup frequency.
	if t.Tier == task.LatCritical || (t.Tier == task.Interactive && (shortRuntime || highWakeupFreq)) {
		cpu := e.Topo.AnyCPUInNode(node)
		q := e.Queues.CPU(cpu)
		lagScale := dispatch.LagScaleFor(t, q.Len(), e.Knobs.LagScale())
		dl := dispatch.Deadline(e.Clock, t, lagScale)
		q.InsertVtime(t, dl)
		t.LastPath = task.PathHardKick
		e.Stats.CPU(cpu).HardKicks++
		e.preemptKick(cpu)
		return
	}

	// Tier 2b: overflow.
	q := e.Queues.Node(node)
	q.Append(t)
	e.Stats.CPU(node % e.Topo.NumCPUs()).EnqueueShared++
	if t.Tier != task.Batch {
		e.Guard.Arm(now)
		e.Stats.CPU(node % e.Topo.NumCPUs()).GuardClamps++
		t.LastPath = task.PathSoftKick
		e.Stats.CPU(node % e.Topo.NumCPUs()).SoftKicks++
	}
}

func (e *Engine) placeIdle(t *task.Context, cpu int, now time.Time) {
	q := e.Queues.CPU(cpu)
	lagScale := dispatch.LagScaleFor(t, q.Len(), e.Knobs.LagScale())
	dl := dispatch.Deadline(e.Clock, t, lagScale)
	q.InsertVtime(t, dl)
	t.LastPath = task.PathIdle
	e.kickIdle(cpu)
	e.Stats.CPU(cpu).IdleFastPathHits++
}

func (e *Engine) insertVtimeOrdered(t *task.Context, cpu int, now time.Time) {
	q := e.Queues.CPU(cpu)
	lagScale := dispatch.LagScaleFor(t, q.Len(), e.Knobs.LagScale())
	dl := dispatch.Deadline(e.Clock, t, lagScale)
	q.InsertVtime(t, dl)
}

func (e *Engine) kickIdle(cpu int) { e.Topo.MarkBusy(cpu) }
func (e *Engine) preemptKick(cpu int) { /* no-op placeholder: the real kernel core issues scx_bpf_kick_cpu here */ }

// Dispatch implements the drain order: own CPU's queue; own node
// overflow; any other node's overflow (steal); else keep the previous
// task running for another slice if still runnable.
func (e *Engine) Dispatch(cpu int, now time.Time) *task.Context {
	node := e.Topo.NodeOf(cpu)

	if t := e.Queues.CPU(cpu).Drain(); t != nil {
		e.Stats.CPU(cpu).Dispatches++
		return t
	}
	if t := e.Queues.Node(node).Drain(); t != nil {
		e.Stats.CPU(cpu).Dispatches++
		return t
	}
	if t, _ := e.Queues.StealFromOtherNodes(node); t != nil {
		e.Stats.CPU(cpu).Dispatches++
		e.Stats.CPU(cpu).CacheAffinityHits++
		return t
	}
	if cur := e.cpus[cpu].Current; cur != nil && !e.cpus[cpu].Idle {
		return cur
	}
	e.Topo.MarkIdle(cpu)
	e.cpus[cpu].Idle = true
	return nil
}

// Running records that a task has started executing on cpu: records
// last_run, computes wake-to-run latency, tallies it by path, emits a
// sample record for the reflex worker, and clears last_wake to
// guarantee at-most-once recording per wake.
func (e *Engine) Running(cpu int, t *task.Context, now time.Time) {
	e.Topo.MarkBusy(cpu)
	e.cpus[cpu] = CPUState{Current: t, RunningSince: now, Idle: false}

	t.LastRun = now
	if !t.LastWake.IsZero() {
		latency := now.Sub(t.LastWake)
		e.Stats.CPU(cpu).RecordLatency(int(t.LastPath), latency)
		if e.Stream.Active() {
			e.Stream.Push(telemetry.Sample{
				Latency:  latency,
				SleepDur: now.Sub(t.SleepedAt),
				Path:     t.LastPath,
				Tier:     t.Tier,
			})
		}
		t.LastWake = time.Time{}
	}
}

// Stopping folds the actual slice into avg_runtime, charges delta_vtime
// to both dsq_vtime and awake_vtime, and applies the batch-demotion path
// at slice end.
func (e *Engine) Stopping(cpu int, t *task.Context, now time.Time) {
	slice := now.Sub(t.LastRun)
	if slice < 0 {
		slice = 0
	}
	t.AvgRuntime = foldRuntimeEWMA(t.AvgRuntime, slice)
	t.EffectiveWeight = dispatch.EffectiveWeight(pconst.DefaultNiceWeight, t.Tier)
	dispatch.ChargeVtime(t, slice)
	e.Clock.Advance(slice)

	e.Classifier.OnSliceEnd(t, e.Knobs)

	e.cpus[cpu].Current = nil
	t.SleepedAt = now
}

// Tick implements the event-driven preemption check.
func (e *Engine) Tick(cpu int, now time.Time) bool {
	cur := e.cpus[cpu]
	should := preempt.TickPreempt(e.Guard, preempt.RunningTask{
		Task:         cur.Current,
		RunningSince: cur.RunningSince,
		IsIdle:       cur.Idle,
	})
	if should {
		e.ZeroSlice(cpu)
		e.Stats.CPU(cpu).Preemptions++
	}
	return should
}

// PeriodicScan implements the periodic preemption scan across every
// online CPU. Callers typically drive this from a ticker at
// knobs.TimerIntervalNS; a zero interval disables it.
func (e *Engine) PeriodicScan(now time.Time) {
	if e.Knobs.TimerIntervalNS() == 0 {
		return
	}
	for cpu := 0; cpu < e.Topo.NumCPUs(); cpu++ {
		cur := e.cpus[cpu]
		node := e.Topo.NodeOf(cpu)
		qs := preempt.CPUQueueState{
			LocalNonEmpty:    e.Queues.CPU(cpu).Len() > 0,
			OverflowNonEmpty: e.Queues.Node(node).Len() > 0,
		}
		decision := e.Scanner.ScanCPU(now, preempt.RunningTask{
			Task:         cur.Current,
			RunningSince: cur.RunningSince,
			IsIdle:       cur.Idle,
		}, qs)
		if decision.ShouldPreempt {
			e.ZeroSlice(cpu)
			e.Stats.CPU(cpu).Preemptions++
		}
	}
}

// ZeroSlice forces the current task off its CPU at the next opportunity
// by zeroing the time it has left to run. This Go port models that as
// immediately ending the slice via Stopping, since there is no real
// kernel preemption point to defer to.
func (e *Engine) ZeroSlice(cpu int) {
	cur := e.cpus[cpu].Current
	if cur == nil {
		return
	}
	e.Stopping(cpu, cur, e.cpus[cpu].RunningSince)
}

// foldRuntimeEWMA folds the observed slice into avg_runtime with a fixed
// 7/8-1/8 fold regardless of task age. The stopping callback in the BPF
// core uses the age-dependent ewma_fold_u64 instead (1/2-1/2 while the
// task is young).
func foldRuntimeEWMA(old, sample time.Duration) time.Duration {
	return old - old/8 + sample/8
}
