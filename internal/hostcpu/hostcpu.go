// Package hostcpu provides two-point /proc/stat delta sampling of host
// CPU idle fraction and context-switch rate. The monitor worker consumes
// Sample.IdlePct to classify the LIGHT/MIXED/HEAVY regime; the
// `idle-cpus` subcommand uses the same reader directly.
package hostcpu

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Sample is one delta-computed CPU utilization reading.
type Sample struct {
	IdlePct               float64
	UserPct               float64
	SystemPct             float64
	IOWaitPct             float64
	ContextSwitchesPerSec int64
	LoadAvg1              float64
	NumCPUs               int
	PerCPU                []PerCPU
}

// PerCPU is one CPU's idle/busy breakdown within a Sample.
type PerCPU struct {
	CPU     int
	IdlePct float64
	UserPct float64
}

// Reader samples /proc/stat under procRoot (normally "/proc").
type Reader struct {
	procRoot string
}

// NewReader creates a Reader rooted at procRoot.
func NewReader(procRoot string) *Reader {
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Reader{procRoot: procRoot}
}

// Sample blocks for interval, taking two /proc/stat readings and
// returning the delta between them. It returns early with ctx.Err() if
// ctx is cancelled mid-sample.
func (r *Reader) Sample(ctx context.Context, interval time.Duration) (Sample, error) {
	if interval <= 0 {
		interval = time.Second
	}

	before, perCPUBefore, ctxBefore := r.readProcStat()

	select {
	case <-time.After(interval):
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	}

	after, perCPUAfter, ctxAfter := r.readProcStat()

	s := r.computeDelta(before, after)
	s.ContextSwitchesPerSec = int64(float64(ctxAfter-ctxBefore) / interval.Seconds())
	s.LoadAvg1, _, _ = r.readLoadAvg()
	s.NumCPUs = runtime.NumCPU()
	s.PerCPU = r.computePerCPUDeltas(perCPUBefore, perCPUAfter)
	return s, nil
}

type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (t cpuTimes) total() uint64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func (r *Reader) readProcStat() (cpuTimes, map[int]cpuTimes, uint64) {
	f, err := os.Open(filepath.Join(r.procRoot, "stat"))
	if err != nil {
		return cpuTimes{}, nil, 0
	}
	defer f.Close()

	var aggregate cpuTimes
	perCPU := make(map[int]cpuTimes)
	var ctxSwitches uint64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "cpu" && len(fields) >= 9 {
			aggregate = parseCPULine(fields)
		} else if strings.HasPrefix(fields[0], "cpu") && len(fields) >= 9 {
			if n, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu")); err == nil {
				perCPU[n] = parseCPULine(fields)
			}
		} else if fields[0] == "ctxt" {
			ctxSwitches, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return aggregate, perCPU, ctxSwitches
}

func parseCPULine(fields []string) cpuTimes {
	parse := func(idx int) uint64 {
		if idx >= len(fields) {
			return 0
		}
		v, _ := strconv.ParseUint(fields[idx], 10, 64)
		return v
	}
	return cpuTimes{
		user: parse(1), nice: parse(2), system: parse(3), idle: parse(4),
		iowait: parse(5), irq: parse(6), softirq: parse(7), steal: parse(8),
	}
}

func (r *Reader) computeDelta(before, after cpuTimes) Sample {
	totalDelta := float64(after.total() - before.total())
	if totalDelta == 0 {
		return Sample{}
	}
	return Sample{
		UserPct:   float64(after.user-before.user+after.nice-before.nice) / totalDelta * 100,
		SystemPct: float64(after.system-before.system) / totalDelta * 100,
		IOWaitPct: float64(after.iowait-before.iowait) / totalDelta * 100,
		IdlePct:   float64(after.idle-before.idle) / totalDelta * 100,
	}
}

func (r *Reader) computePerCPUDeltas(before, after map[int]cpuTimes) []PerCPU {
	cpuNums := make([]int, 0, len(after))
	for n := range after {
		cpuNums = append(cpuNums, n)
	}
	sort.Ints(cpuNums)

	var result []PerCPU
	for _, n := range cpuNums {
		a := after[n]
		b, ok := before[n]
		if !ok {
			continue
		}
		totalDelta := float64(a.total() - b.total())
		if totalDelta == 0 {
			continue
		}
		result = append(result, PerCPU{
			CPU:     n,
			UserPct: float64(a.user-b.user+a.nice-b.nice) / totalDelta * 100,
			IdlePct: float64(a.idle-b.idle) / totalDelta * 100,
		})
	}
	return result
}

func (r *Reader) readLoadAvg() (float64, float64, float64) {
	data, err := os.ReadFile(filepath.Join(r.procRoot, "loadavg"))
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	la1, _ := strconv.ParseFloat(fields[0], 64)
	la5, _ := strconv.ParseFloat(fields[1], 64)
	la15, _ := strconv.ParseFloat(fields[2], 64)
	return la1, la5, la15
}

// IdleCPUs returns the CPU numbers whose idle percentage over interval
// is at least threshold, the `idle-cpus` subcommand's core query.
func (r *Reader) IdleCPUs(ctx context.Context, interval time.Duration, threshold float64) ([]int, error) {
	s, err := r.Sample(ctx, interval)
	if err != nil {
		return nil, err
	}
	var idle []int
	for _, pc := range s.PerCPU {
		if pc.IdlePct >= threshold {
			idle = append(idle, pc.CPU)
		}
	}
	return idle, nil
}
