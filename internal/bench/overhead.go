package bench

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// OverheadSummary captures the bench harness's own resource consumption
// while running scenarios, so a run can be judged against the no-callback-
// blocks liveness property from the outside, not just asserted from
// within the simulation.
type OverheadSummary struct {
	SelfPID        int   `json:"self_pid"`
	CPUUserMs      int64 `json:"cpu_user_ms"`
	CPUSystemMs    int64 `json:"cpu_system_ms"`
	MemoryRSSBytes int64 `json:"memory_rss_bytes"`
}

type procSnapshot struct {
	utime uint64
	stime uint64
	rss   int64
}

// Tracker snapshots the bench process's own CPU/RSS usage before and
// after a run.
type Tracker struct {
	selfPID int
	before  procSnapshot
}

// NewTracker creates a Tracker for the current process.
func NewTracker() *Tracker {
	return &Tracker{selfPID: os.Getpid()}
}

// SnapshotBefore records the starting resource usage.
func (t *Tracker) SnapshotBefore() {
	t.before = readProcSnapshot(t.selfPID)
}

// SnapshotAfter computes the delta since SnapshotBefore.
func (t *Tracker) SnapshotAfter() OverheadSummary {
	now := readProcSnapshot(t.selfPID)
	return OverheadSummary{
		SelfPID:        t.selfPID,
		CPUUserMs:      ticksToMs(now.utime - t.before.utime),
		CPUSystemMs:    ticksToMs(now.stime - t.before.stime),
		MemoryRSSBytes: now.rss * 4096,
	}
}

func ticksToMs(ticks uint64) int64 {
	return int64(ticks) * 10
}

func readProcSnapshot(pid int) procSnapshot {
	var snap procSnapshot

	statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return snap
	}
	// Fields after the (comm) parenthetical are space-separated; utime/stime
	// are fields 14/15, rss is field 24 (1-indexed per proc(5)).
	closeParen := strings.LastIndex(string(statData), ")")
	if closeParen < 0 {
		return snap
	}
	fields := strings.Fields(string(statData)[closeParen+1:])
	if len(fields) < 22 {
		return snap
	}
	snap.utime, _ = strconv.ParseUint(fields[11], 10, 64)
	snap.stime, _ = strconv.ParseUint(fields[12], 10, 64)
	rss, _ := strconv.ParseInt(fields[21], 10, 64)
	snap.rss = rss
	return snap
}
