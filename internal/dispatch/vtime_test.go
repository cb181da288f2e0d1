package dispatch

import (
	"testing"
	"time"

	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/task"
)

func TestClockAdvanceIsMonotonic(t *testing.T) {
	var c Clock
	c.Advance(5 * time.Millisecond)
	c.Advance(2 * time.Millisecond)
	if c.Now() != 7*time.Millisecond {
		t.Errorf("Now() = %s, want 7ms", c.Now())
	}
}

func TestClockAdvanceIgnoresNonPositiveDelta(t *testing.T) {
	var c Clock
	c.Advance(3 * time.Millisecond)
	c.Advance(-1 * time.Millisecond)
	if c.Now() != 3*time.Millisecond {
		t.Errorf("Now() = %s, want unchanged at 3ms", c.Now())
	}
}

func TestChargeVtimeAppliesWeightedDelta(t *testing.T) {
	tsk := task.New("x")
	tsk.EffectiveWeight = 128 // nice-0, no tier scaling
	tsk.Tier = task.Interactive

	ChargeVtime(tsk, 4*time.Millisecond)

	want := time.Duration((int64(4*time.Millisecond) << 7) / 128)
	if tsk.DsqVtime != want {
		t.Errorf("DsqVtime = %s, want %s", tsk.DsqVtime, want)
	}
	if tsk.AwakeVtime != want {
		t.Errorf("AwakeVtime = %s, want %s", tsk.AwakeVtime, want)
	}
}

func TestChargeVtimeClampsToTierCap(t *testing.T) {
	tsk := task.New("x")
	tsk.Tier = task.LatCritical
	tsk.EffectiveWeight = 1 // tiny weight maximizes delta_vtime per charge

	ChargeVtime(tsk, 50*time.Millisecond)
	ChargeVtime(tsk, 50*time.Millisecond)

	if tsk.AwakeVtime != pconst.AwakeVtimeCapLatCritical {
		t.Errorf("AwakeVtime = %s, want clamped to %s", tsk.AwakeVtime, pconst.AwakeVtimeCapLatCritical)
	}
}

func TestChargeVtimeFallsBackOnZeroWeight(t *testing.T) {
	tsk := task.New("x")
	tsk.EffectiveWeight = 0

	ChargeVtime(tsk, time.Millisecond)
	if tsk.DsqVtime == 0 {
		t.Error("DsqVtime should advance even with a zero EffectiveWeight (falls back to DefaultNiceWeight)")
	}
}

func TestDeadlineFloorsStaleDsqVtime(t *testing.T) {
	var c Clock
	c.Advance(100 * time.Millisecond)

	tsk := task.New("x")
	tsk.DsqVtime = 0 // far behind vtime_now after a long sleep

	dl := Deadline(&c, tsk, 1.0)
	floor := c.Now() - pconst.LagCap
	if tsk.DsqVtime != floor {
		t.Errorf("DsqVtime after floor = %s, want %s", tsk.DsqVtime, floor)
	}
	if dl != floor+tsk.AwakeVtime {
		t.Errorf("Deadline() = %s, want dsq_vtime + awake_vtime", dl)
	}
}

func TestEffectiveWeightScalesByTier(t *testing.T) {
	base := 128
	if EffectiveWeight(base, task.Batch) != base*pconst.WeightMulBatch/128 {
		t.Error("BATCH weight mismatch")
	}
	if EffectiveWeight(base, task.Interactive) != base*pconst.WeightMulInteractive/128 {
		t.Error("INTERACTIVE weight mismatch")
	}
	if EffectiveWeight(base, task.LatCritical) != base*pconst.WeightMulLatCritical/128 {
		t.Error("LAT_CRITICAL weight mismatch")
	}
}

func TestLagScaleForClampsUnderQueuePressure(t *testing.T) {
	tsk := task.New("x")
	tsk.WakeupFreqEWMA = 0

	scale := LagScaleFor(tsk, pconst.QueuePressureForce+1, 4.0)
	if scale != 1 {
		t.Errorf("LagScaleFor under forced pressure = %.2f, want 1.0", scale)
	}
}

func TestLagScaleForUpperBound(t *testing.T) {
	tsk := task.New("x")
	tsk.WakeupFreqEWMA = pconst.MaxWakeupFreq

	scale := LagScaleFor(tsk, 0, 8.0)
	if scale > 8 {
		t.Errorf("LagScaleFor = %.2f, want capped at 8", scale)
	}
}
