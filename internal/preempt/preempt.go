package preempt

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/task"
)

// RunningTask is the minimal view the preemption engine needs of a CPU's
// current occupant, decoupling this package from internal/sched.
type RunningTask struct {
	Task         *task.Context
	RunningSince time.Time
	IsIdle       bool
}

// CPUQueueState reports whether a CPU's local/overflow queues are
// non-empty, needed to decide whether a preemption would have anywhere
// to dispatch to.
type CPUQueueState struct {
	LocalNonEmpty    bool
	OverflowNonEmpty bool
}

// Scanner runs the periodic preemption scan. It inspects every online
// CPU (bounded by pconst.MaxCPUs for liveness) and zeroes the slice of
// any batch/over-threshold runner that has queued work waiting.
type Scanner struct {
	k *knobs.Knobs
}

// NewScanner builds a Scanner reading thresholds from the live knobs.
func NewScanner(k *knobs.Knobs) *Scanner { return &Scanner{k: k} }

// PreemptDecision is the outcome of scanning one CPU.
type PreemptDecision struct {
	ShouldPreempt bool
}

// ScanCPU implements one iteration of the periodic scan for a single
// CPU: for each online CPU with a non-idle current task and non-empty
// local or overflow queue, if the current task has been running longer
// than preempt_thresh_ns its slice is zeroed and a preempt kick is
// issued.
func (s *Scanner) ScanCPU(now time.Time, cur RunningTask, qs CPUQueueState) PreemptDecision {
	if cur.IsIdle {
		return PreemptDecision{}
	}
	if !qs.LocalNonEmpty && !qs.OverflowNonEmpty {
		return PreemptDecision{}
	}
	running := now.Sub(cur.RunningSince)
	if running > s.k.PreemptThreshNS() {
		return PreemptDecision{ShouldPreempt: true}
	}
	return PreemptDecision{}
}

// TickPreempt implements the event-driven tick preemption: on the
// kernel's per-task tick, if the interactive_waiting flag is set and the
// current task is BATCH with avg_runtime >= 1ms, it is preempted; the
// flag is cleared.
func TickPreempt(g *Guard, cur RunningTask) bool {
	if !g.InteractiveWaiting() {
		return false
	}
	defer g.ClearInteractiveWaiting()
	if cur.IsIdle || cur.Task == nil {
		return false
	}
	if cur.Task.Tier != task.Batch {
		return false
	}
	return cur.Task.AvgRuntime >= time.Millisecond
}
