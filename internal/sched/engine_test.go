package sched

import (
	"testing"
	"time"

	"github.com/wllclngn/pandemonium/internal/classify"
	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/task"
)

func newEngine(nCPUs, nNodes int) *Engine {
	return New(nCPUs, nNodes, knobs.New(), classify.New(nil))
}

func TestWakeTier0PlacesOnIdleCPU(t *testing.T) {
	e := newEngine(4, 1)
	tk := task.New("worker")

	e.Wake(tk, time.Now(), 0, 0)

	if e.Queues.CPU(0).Len() != 1 {
		t.Errorf("tier-0 wake should insert directly into the waking CPU's queue")
	}
	if e.Topo.IsIdle(0) {
		t.Error("the CPU just claimed by a tier-0 wake should now be marked busy")
	}
}

func TestWakeFallsBackToOtherIdleCPUWhenWakingCPUBusy(t *testing.T) {
	e := newEngine(2, 1)
	e.Topo.MarkBusy(0) // only cpu1 idle

	tk := task.New("worker")
	e.Wake(tk, time.Now(), 0, 0)

	if e.Queues.CPU(1).Len() != 1 {
		t.Error("tier-0 wake should land on the other idle CPU in the node")
	}
	if tk.LastPath != task.PathIdle {
		t.Errorf("LastPath = %s, want idle", tk.LastPath)
	}
}

func TestEnqueueTier2aHardKicksLatCritical(t *testing.T) {
	e := newEngine(1, 1)
	e.Topo.MarkBusy(0) // no idle CPUs anywhere

	tk := task.New("compositor")
	tk.Tier = task.LatCritical
	e.Enqueue(tk, time.Now(), 0)

	if tk.LastPath != task.PathHardKick {
		t.Errorf("LastPath = %s, want hard-kick for a LAT_CRITICAL task with no idle CPU", tk.LastPath)
	}
	if e.Stats.CPU(0).HardKicks != 1 {
		t.Error("HardKicks counter should increment on a tier-2a placement")
	}
}

func TestEnqueueTier2bOverflowsBatchWithoutArmingGuard(t *testing.T) {
	e := newEngine(1, 1)
	e.Topo.MarkBusy(0)

	tk := task.New("batch-job")
	tk.Tier = task.Batch
	e.Enqueue(tk, time.Now(), 0)

	if e.Queues.Node(0).Len() != 1 {
		t.Error("a BATCH task with no idle CPU should land in the node overflow queue")
	}
	if tk.LastPath == task.PathSoftKick {
		t.Error("BATCH tier overflow should not arm the guard or soft-kick")
	}
}

func TestEnqueueTier2bArmsGuardForNonBatch(t *testing.T) {
	e := newEngine(1, 1)
	e.Topo.MarkBusy(0)

	tk := task.New("interactive-overflow")
	tk.Tier = task.Interactive
	tk.AvgRuntime = time.Second // long enough to skip the short-runtime hard-kick path
	e.Enqueue(tk, time.Now(), 0)

	if tk.LastPath != task.PathSoftKick {
		t.Errorf("LastPath = %s, want soft-kick for non-BATCH overflow", tk.LastPath)
	}
	if e.Stats.CPU(0).GuardClamps != 1 {
		t.Error("non-BATCH overflow should arm the preemption guard")
	}
}

func TestDispatchDrainsLocalQueueBeforeOverflow(t *testing.T) {
	e := newEngine(2, 1)
	local := task.New("local")
	overflow := task.New("overflow")
	e.Queues.CPU(0).Append(local)
	e.Queues.Node(0).Append(overflow)

	got := e.Dispatch(0, time.Now())
	if got != local {
		t.Error("Dispatch should drain the CPU's own queue before the node overflow queue")
	}
}

func TestDispatchFallsBackToStealWhenLocalAndOverflowEmpty(t *testing.T) {
	e := newEngine(2, 2)
	stealable := task.New("stealable")
	e.Queues.Node(1).Append(stealable)

	got := e.Dispatch(0, time.Now())
	if got != stealable {
		t.Error("Dispatch should steal from another node's overflow queue when local is empty")
	}
	if e.Stats.CPU(0).CacheAffinityHits != 1 {
		t.Error("a successful steal should count as a cache-affinity hit")
	}
}

func TestDispatchMarksCPUIdleWhenNothingToRun(t *testing.T) {
	e := newEngine(1, 1)
	got := e.Dispatch(0, time.Now())
	if got != nil {
		t.Error("Dispatch with empty queues and no current task should return nil")
	}
	if !e.Topo.IsIdle(0) {
		t.Error("Dispatch should mark the CPU idle when it finds nothing to run")
	}
}

func TestRunningClearsLastWakeAfterRecordingLatency(t *testing.T) {
	e := newEngine(1, 1)
	tk := task.New("worker")
	now := time.Now()
	tk.LastWake = now.Add(-time.Millisecond)

	e.Running(0, tk, now)

	if !tk.LastWake.IsZero() {
		t.Error("Running should clear LastWake after recording wake-to-run latency once")
	}
	if e.cpus[0].Current != tk {
		t.Error("Running should record the task as the CPU's current task")
	}
}

func TestStoppingFoldsRuntimeAndChargesVtime(t *testing.T) {
	e := newEngine(1, 1)
	tk := task.New("worker")
	tk.AvgRuntime = 4 * time.Millisecond
	start := time.Now()
	e.cpus[0].Current = tk
	e.cpus[0].RunningSince = start
	tk.LastRun = start

	e.Stopping(0, tk, start.Add(8*time.Millisecond))

	if tk.AvgRuntime == 4*time.Millisecond {
		t.Error("Stopping should fold the observed slice into AvgRuntime")
	}
	if tk.DsqVtime == 0 {
		t.Error("Stopping should charge vtime for the elapsed slice")
	}
	if e.cpus[0].Current != nil {
		t.Error("Stopping should clear the CPU's current task")
	}
}

func TestStoppingClampsNegativeSliceToZero(t *testing.T) {
	e := newEngine(1, 1)
	tk := task.New("worker")
	now := time.Now()
	e.cpus[0].Current = tk
	e.cpus[0].RunningSince = now

	// LastRun after the "stop" timestamp would otherwise yield a negative slice.
	tk.LastRun = now.Add(time.Millisecond)
	e.Stopping(0, tk, now)

	if tk.AvgRuntime < 0 {
		t.Error("a negative slice duration must not be folded as-is")
	}
}
