package reflex

import (
	"testing"
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

func newWorker() *Worker {
	return New(&telemetry.LatencyHistogram{}, knobs.New())
}

func TestPollTightensWhenP99ExceedsCeilingInMixed(t *testing.T) {
	w := newWorker()
	for i := 0; i < 20; i++ {
		w.Histogram.Add(50 * time.Millisecond)
	}
	beforeSlice := w.Knobs.SliceNS()

	result := w.Poll(time.Now(), knobs.Mixed, 10*time.Millisecond)
	if !result.Tightened {
		t.Error("Poll should tighten when P99 exceeds the MIXED ceiling")
	}
	if w.Knobs.SliceNS() >= beforeSlice {
		t.Error("SliceNS should shrink after tightening")
	}
	if !w.Tightened() {
		t.Error("Tightened() should report true after a tighten")
	}
}

func TestPollDoesNotRelaxBeforeGoodHoldElapses(t *testing.T) {
	w := newWorker()
	for i := 0; i < 20; i++ {
		w.Histogram.Add(50 * time.Millisecond)
	}
	now := time.Now()
	w.Poll(now, knobs.Mixed, 10*time.Millisecond) // tighten

	w.Histogram.Reset()
	w.Histogram.Add(time.Millisecond) // now well under ceiling

	result := w.Poll(now.Add(time.Second), knobs.Mixed, 10*time.Millisecond)
	if result.Relaxed {
		t.Error("should not relax before GoodP99Hold has elapsed")
	}
	if !w.Tightened() {
		t.Error("should remain tightened before the hold window elapses")
	}
}

func TestPollRelaxesAfterGoodHoldElapses(t *testing.T) {
	w := newWorker()
	w.RelaxStep = time.Hour // relax fully in one step for this test
	for i := 0; i < 20; i++ {
		w.Histogram.Add(50 * time.Millisecond)
	}
	now := time.Now()
	w.Poll(now, knobs.Mixed, 10*time.Millisecond) // tighten, goodSince zeroed

	w.Histogram.Reset()
	w.Histogram.Add(time.Millisecond)
	w.Poll(now.Add(time.Millisecond), knobs.Mixed, 10*time.Millisecond) // goodSince set here

	result := w.Poll(now.Add(GoodP99Hold+time.Second), knobs.Mixed, 10*time.Millisecond)
	if !result.Relaxed {
		t.Error("should relax once P99 has held under ceiling for GoodP99Hold")
	}
	if w.Tightened() {
		t.Error("Tightened() should clear once knobs reach baseline")
	}
}

func TestPollIgnoresRegimesOtherThanMixed(t *testing.T) {
	w := newWorker()
	for i := 0; i < 20; i++ {
		w.Histogram.Add(50 * time.Millisecond)
	}
	result := w.Poll(time.Now(), knobs.Heavy, 10*time.Millisecond)
	if result.Tightened {
		t.Error("reflex tightening is gated on the MIXED regime only")
	}
}

func TestStepTowardNeverOvershoots(t *testing.T) {
	if got := stepToward(5*time.Millisecond, 10*time.Millisecond, 3*time.Millisecond); got != 8*time.Millisecond {
		t.Errorf("stepToward ascending = %s, want 8ms", got)
	}
	if got := stepToward(5*time.Millisecond, 10*time.Millisecond, 20*time.Millisecond); got != 10*time.Millisecond {
		t.Errorf("stepToward should clamp at target, got %s", got)
	}
	if got := stepToward(10*time.Millisecond, 2*time.Millisecond, 3*time.Millisecond); got != 7*time.Millisecond {
		t.Errorf("stepToward descending = %s, want 7ms", got)
	}
}
