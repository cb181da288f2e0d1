// Package bpf binds the Go control loop to the maps declared in
// pandemonium.bpf.c: the knobs array, the per-CPU stats array, and the
// wakeup-latency sample ring buffer. Layouts here must match the C
// structs field-for-field — there is no code generation step, so a
// change to one side requires the matching change on the other.
package bpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/task"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

// knobsWire mirrors struct knobs in pandemonium.bpf.c: six u64 fields,
// native byte order, single entry at key 0.
type knobsWire struct {
	SliceNS         uint64
	PreemptThreshNS uint64
	LagScale        uint64 // fixed-point, same *100 convention as knobs.Knobs
	BatchSliceNS    uint64
	TimerIntervalNS uint64
	DemoteThreshNS  uint64
}

// WriteKnobs serializes a Snapshot into the knobs_map's single array
// slot. Called by the monitor worker every control tick and by the
// reflex worker on every tightening/relaxation step.
func WriteKnobs(m *ebpf.Map, snap knobs.Snapshot) error {
	wire := knobsWire{
		SliceNS:         uint64(snap.SliceNS),
		PreemptThreshNS: uint64(snap.PreemptThreshNS),
		LagScale:        uint64(snap.LagScale * 100),
		BatchSliceNS:    uint64(snap.BatchSliceNS),
		TimerIntervalNS: uint64(snap.TimerIntervalNS),
		DemoteThreshNS:  uint64(snap.DemoteThreshNS),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, &wire); err != nil {
		return fmt.Errorf("encode knobs: %w", err)
	}

	var zero uint32
	if err := m.Update(&zero, buf.Bytes(), ebpf.UpdateAny); err != nil {
		return fmt.Errorf("write knobs_map: %w", err)
	}
	return nil
}

// cpuStatsWire mirrors struct cpu_stats in pandemonium.bpf.c.
type cpuStatsWire struct {
	Dispatches        uint64
	IdleHits          uint64
	EnqueueShared     uint64
	Preemptions       uint64
	HardKicks         uint64
	SoftKicks         uint64
	WakeupEvents      uint64
	ReEnqueueEvents   uint64
	GuardClamps       uint64
	CacheAffinityHits uint64
	ProfileCacheHits  uint64
	ZeroSlice         uint64
	LatWakeNS         [3]uint64
	LatWakeCnt        [3]uint64
}

// ReadStats sums stats_map's per-CPU array (one slot per possible CPU,
// kernel-side convention for BPF_MAP_TYPE_PERCPU_ARRAY) into a single
// Totals value, the shape the telemetry line and the MCP server consume.
func ReadStats(m *ebpf.Map) (telemetry.Totals, error) {
	var values []cpuStatsWire
	var zero uint32
	if err := m.Lookup(&zero, &values); err != nil {
		return telemetry.Totals{}, fmt.Errorf("read stats_map: %w", err)
	}

	var t telemetry.Totals
	for _, c := range values {
		t.Dispatches += c.Dispatches
		t.IdleFastPathHits += c.IdleHits
		t.EnqueueShared += c.EnqueueShared
		t.Preemptions += c.Preemptions
		t.HardKicks += c.HardKicks
		t.SoftKicks += c.SoftKicks
		t.WakeupEvents += c.WakeupEvents
		t.ReEnqueueEvents += c.ReEnqueueEvents
		t.GuardClamps += c.GuardClamps
		t.CacheAffinityHits += c.CacheAffinityHits
		t.ProfileCacheHits += c.ProfileCacheHits
		t.ZeroSliceDiag += c.ZeroSlice
		for p := 0; p < 3; p++ {
			t.PathLatencySumNS[p] += c.LatWakeNS[p]
			t.PathLatencyCount[p] += c.LatWakeCnt[p]
		}
	}
	return t, nil
}

// sampleWire mirrors the wakeup-latency record pushed into samples_map.
type sampleWire struct {
	LatencyNS uint64
	SleepNS   uint64
	ThreadID  uint32
	PathTag   uint8
	TierTag   uint8
	_         [2]uint8 // padding to match the C compiler's struct layout
}

// Sample is the decoded, Go-native form of a sampleWire record.
type Sample struct {
	Latency  time.Duration
	Sleep    time.Duration
	ThreadID uint32
	Path     task.Path
	Tier     task.Tier
}

// SampleReader drains the kernel's ring buffer of wakeup-latency samples.
// Only the reflex worker reads it. The BPF core in pandemonium.bpf.c does
// not write records into samples_map and does not consult ringbuf_active,
// so on the attached path the reader returns no samples.
type SampleReader struct {
	rd *ringbuf.Reader
}

// NewSampleReader opens the ring buffer map for reading.
func NewSampleReader(m *ebpf.Map) (*SampleReader, error) {
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("open samples_map ringbuf: %w", err)
	}
	return &SampleReader{rd: rd}, nil
}

// Read blocks until a record is available (bounded by the reflex
// worker's outer poll timeout) or the reader is closed, returning one
// decoded Sample.
func (r *SampleReader) Read() (Sample, error) {
	rec, err := r.rd.Read()
	if err != nil {
		return Sample{}, err
	}

	var wire sampleWire
	if err := binary.Read(bytes.NewReader(rec.RawSample), binary.NativeEndian, &wire); err != nil {
		return Sample{}, fmt.Errorf("decode sample: %w", err)
	}

	return Sample{
		Latency:  time.Duration(wire.LatencyNS),
		Sleep:    time.Duration(wire.SleepNS),
		ThreadID: wire.ThreadID,
		Path:     task.Path(wire.PathTag),
		Tier:     task.Tier(wire.TierTag),
	}, nil
}

// Close releases the underlying ring buffer reader.
func (r *SampleReader) Close() error {
	return r.rd.Close()
}

// Drain folds up to max pending records into hist without blocking past
// records already queued in the ring buffer: it sets an immediate read
// deadline so the reflex worker's 1ms tick never stalls waiting on the
// kernel to produce the next wakeup.
func (r *SampleReader) Drain(hist *telemetry.LatencyHistogram, max int) (int, error) {
	if err := r.rd.SetDeadline(time.Now()); err != nil {
		return 0, fmt.Errorf("set samples_map read deadline: %w", err)
	}
	n := 0
	for n < max {
		s, err := r.Read()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, ringbuf.ErrClosed) {
				break
			}
			return n, err
		}
		hist.Add(s.Latency)
		n++
	}
	return n, nil
}
