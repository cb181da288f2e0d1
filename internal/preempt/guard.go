// Package preempt implements the preemption engine: the periodic scan,
// the event-driven tick preemption, and the interactive guard window
// that clamps batch slices after a non-batch task is forced to the
// overflow queue.
package preempt

import (
	"sync/atomic"
	"time"

	"github.com/wllclngn/pandemonium/internal/pconst"
)

// Guard holds the two single-copy, multi-writer control flags:
// interactive_waiting (many writers: enqueue-on-overflow; one clearer:
// tick) and guard_until (many writers take max). Both are safe under
// relaxed atomics with no locking.
type Guard struct {
	interactiveWaiting atomic.Bool
	guardUntilNS       atomic.Int64 // unix nanos
}

// Arm sets interactive_waiting and advances guard_until to at least
// now+GuardWindow. Concurrent callers racing Arm converge on the
// furthest deadline because the update is a compare-and-swap loop
// taking the max.
func (g *Guard) Arm(now time.Time) {
	g.interactiveWaiting.Store(true)
	deadline := now.Add(pconst.GuardWindow).UnixNano()
	for {
		cur := g.guardUntilNS.Load()
		if cur >= deadline {
			return
		}
		if g.guardUntilNS.CompareAndSwap(cur, deadline) {
			return
		}
	}
}

// Active reports whether now is still within the guard window. Guard
// windows self-expire; no explicit reset is needed.
func (g *Guard) Active(now time.Time) bool {
	return now.UnixNano() < g.guardUntilNS.Load()
}

// InteractiveWaiting reports the flag's current value.
func (g *Guard) InteractiveWaiting() bool { return g.interactiveWaiting.Load() }

// ClearInteractiveWaiting is called from the tick callback, the flag's
// sole clearer.
func (g *Guard) ClearInteractiveWaiting() { g.interactiveWaiting.Store(false) }

// ClampBatchSlice applies the 200us clamp while the guard window is
// active. It returns the (possibly clamped) slice and whether a clamp
// occurred, so callers can increment the guard-clamp counter exactly
// once per affected computation.
func (g *Guard) ClampBatchSlice(now time.Time, slice time.Duration) (time.Duration, bool) {
	if g.Active(now) && slice > pconst.GuardClampSlice {
		return pconst.GuardClampSlice, true
	}
	return slice, false
}
