package telemetry

import "time"

// PerCPU holds the monotonic per-CPU counters. Counters are written only
// by their owning CPU context and read racily by userspace; in this Go
// port that ownership rule is enforced by convention (each Stats.CPU(id)
// is only ever mutated by the goroutine simulating that CPU), not by the
// type system.
type PerCPU struct {
	Dispatches        uint64
	IdleFastPathHits  uint64
	EnqueueShared     uint64
	Preemptions       uint64
	HardKicks         uint64
	SoftKicks         uint64
	WakeupEvents      uint64
	ReEnqueueEvents   uint64
	GuardClamps       uint64
	CacheAffinityHits uint64
	ProfileCacheHits  uint64
	ZeroSliceDiag     uint64

	// Per-path wakeup-latency sums/counts, keyed by task.Path ordinal.
	PathLatencySumNS [3]uint64
	PathLatencyCount [3]uint64
}

// Stats owns one PerCPU record per CPU.
type Stats struct {
	perCPU []PerCPU
}

// NewStats allocates counters for nCPUs CPUs.
func NewStats(nCPUs int) *Stats {
	return &Stats{perCPU: make([]PerCPU, nCPUs)}
}

// CPU returns a pointer to the counters owned by CPU id for in-place
// mutation from that CPU's simulated context.
func (s *Stats) CPU(id int) *PerCPU { return &s.perCPU[id] }

func (s *Stats) NumCPUs() int { return len(s.perCPU) }

// RecordLatency adds a wake-to-run latency sample to the per-path sum.
func (p *PerCPU) RecordLatency(pathOrdinal int, d time.Duration) {
	p.PathLatencySumNS[pathOrdinal] += uint64(d)
	p.PathLatencyCount[pathOrdinal]++
}

// Aggregate sums every per-CPU counter into a single Totals value.
func (s *Stats) Aggregate() Totals {
	var t Totals
	for i := range s.perCPU {
		c := &s.perCPU[i]
		t.Dispatches += c.Dispatches
		t.IdleFastPathHits += c.IdleFastPathHits
		t.EnqueueShared += c.EnqueueShared
		t.Preemptions += c.Preemptions
		t.HardKicks += c.HardKicks
		t.SoftKicks += c.SoftKicks
		t.WakeupEvents += c.WakeupEvents
		t.ReEnqueueEvents += c.ReEnqueueEvents
		t.GuardClamps += c.GuardClamps
		t.CacheAffinityHits += c.CacheAffinityHits
		t.ProfileCacheHits += c.ProfileCacheHits
		t.ZeroSliceDiag += c.ZeroSliceDiag
		for p := range c.PathLatencySumNS {
			t.PathLatencySumNS[p] += c.PathLatencySumNS[p]
			t.PathLatencyCount[p] += c.PathLatencyCount[p]
		}
	}
	return t
}

// Totals is the cross-CPU sum of PerCPU, the shape userspace consumes.
type Totals struct {
	Dispatches        uint64
	IdleFastPathHits  uint64
	EnqueueShared     uint64
	Preemptions       uint64
	HardKicks         uint64
	SoftKicks         uint64
	WakeupEvents      uint64
	ReEnqueueEvents   uint64
	GuardClamps       uint64
	CacheAffinityHits uint64
	ProfileCacheHits  uint64
	ZeroSliceDiag     uint64
	PathLatencySumNS  [3]uint64
	PathLatencyCount  [3]uint64
}

// AvgLatency returns the mean wake-to-run latency across all paths.
func (t Totals) AvgLatency() time.Duration {
	var sum, count uint64
	for i := range t.PathLatencySumNS {
		sum += t.PathLatencySumNS[i]
		count += t.PathLatencyCount[i]
	}
	if count == 0 {
		return 0
	}
	return time.Duration(sum / count)
}

// PathAvgLatency returns the mean latency for a single dispatch path.
func (t Totals) PathAvgLatency(pathOrdinal int) time.Duration {
	if t.PathLatencyCount[pathOrdinal] == 0 {
		return 0
	}
	return time.Duration(t.PathLatencySumNS[pathOrdinal] / t.PathLatencyCount[pathOrdinal])
}
