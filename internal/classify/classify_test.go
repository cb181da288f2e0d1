package classify

import (
	"testing"
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/pconst"
	"github.com/wllclngn/pandemonium/internal/task"
)

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		score int
		want  task.Tier
	}{
		{0, task.Batch},
		{pconst.ScoreInteractive - 1, task.Batch},
		{pconst.ScoreInteractive, task.Interactive},
		{pconst.ScoreLatCritical - 1, task.Interactive},
		{pconst.ScoreLatCritical, task.LatCritical},
		{pconst.MaxLatCriScore, task.LatCritical},
	}
	for _, tc := range tests {
		if got := Classify(tc.score); got != tc.want {
			t.Errorf("Classify(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestIsCompositorSeededFromDefaults(t *testing.T) {
	c := New(nil)
	if !c.IsCompositor("kwin_wayland") {
		t.Error("kwin_wayland should be a default compositor")
	}
	if c.IsCompositor("bash") {
		t.Error("bash should not be treated as a compositor")
	}
}

func TestAddCompositorExtendsDefaults(t *testing.T) {
	c := New([]string{"mutter"})
	if !c.IsCompositor("mutter") {
		t.Error("extra compositor passed to New should be registered")
	}
	c.AddCompositor("xfwm4")
	if !c.IsCompositor("xfwm4") {
		t.Error("AddCompositor should register the new name")
	}
}

// TestOnWakeFirstSeenFastPath verifies that a task younger than
// pconst.FirstSeenAge is never scored, staying INTERACTIVE regardless of
// wake cadence, per the avoid-divide-by-near-zero-dt rule.
func TestOnWakeFirstSeenFastPath(t *testing.T) {
	c := New(nil)
	tsk := task.New("newproc")
	now := time.Now()

	c.OnWake(tsk, now, 1)
	if tsk.Tier != task.Interactive {
		t.Errorf("Tier after first wake = %s, want INTERACTIVE", tsk.Tier)
	}
	if tsk.Score != 0 {
		t.Errorf("Score after first wake = %d, want 0 (unscored)", tsk.Score)
	}
}

// TestOnWakeCompositorBoostOverridesScore verifies a registered compositor
// is always promoted to LAT_CRITICAL even with a near-zero score.
func TestOnWakeCompositorBoostOverridesScore(t *testing.T) {
	c := New(nil)
	tsk := task.New("kwin_wayland")
	now := time.Now()

	for i := 0; i < pconst.FirstSeenAge+1; i++ {
		c.OnWake(tsk, now, uint64(i))
		now = now.Add(time.Millisecond)
	}
	if tsk.Tier != task.LatCritical {
		t.Errorf("Tier = %s, want LAT_CRITICAL (compositor boost)", tsk.Tier)
	}
}

// TestOnWakeHighFrequencyWakesRaiseTier feeds a rapid, bursty wake pattern
// (high wakeup frequency and csw rate relative to a short runtime) and
// expects the task to climb out of BATCH.
func TestOnWakeHighFrequencyWakesRaiseTier(t *testing.T) {
	c := New(nil)
	tsk := task.New("audio-thread")
	tsk.AvgRuntime = 500 * time.Microsecond
	now := time.Now()

	for i := 0; i < 12; i++ {
		now = now.Add(time.Millisecond)
		c.OnWake(tsk, now, uint64(i+1))
	}
	if tsk.Tier == task.Batch {
		t.Errorf("Tier = %s after sustained sub-ms wakes, want promoted out of BATCH", tsk.Tier)
	}
}

func TestOnSliceEndDemotesLongRunningInteractive(t *testing.T) {
	c := New(nil)
	k := knobs.New()
	tsk := task.New("batchy")
	tsk.Tier = task.Interactive
	tsk.AvgRuntime = k.DemoteThreshNS() + time.Millisecond

	c.OnSliceEnd(tsk, k)
	if tsk.Tier != task.Batch {
		t.Errorf("Tier = %s, want BATCH after exceeding demote threshold", tsk.Tier)
	}
}

func TestOnSliceEndLeavesShortRunningInteractiveAlone(t *testing.T) {
	c := New(nil)
	k := knobs.New()
	tsk := task.New("quick")
	tsk.Tier = task.Interactive
	tsk.AvgRuntime = time.Microsecond

	c.OnSliceEnd(tsk, k)
	if tsk.Tier != task.Interactive {
		t.Errorf("Tier = %s, want unchanged INTERACTIVE", tsk.Tier)
	}
}

func TestOnEnableUsesPrediction(t *testing.T) {
	c := New(nil)
	tsk := &task.Context{}
	pred := &Prediction{Tier: task.LatCritical, AvgRuntime: 2 * time.Millisecond, CachedWeight: 300}

	c.OnEnable(tsk, pred)
	if tsk.Tier != task.LatCritical {
		t.Errorf("Tier = %s, want LAT_CRITICAL from prediction", tsk.Tier)
	}
	if tsk.AvgRuntime != pred.AvgRuntime {
		t.Errorf("AvgRuntime = %s, want %s", tsk.AvgRuntime, pred.AvgRuntime)
	}
	if tsk.EffectiveWeight != pred.CachedWeight {
		t.Errorf("EffectiveWeight = %d, want %d", tsk.EffectiveWeight, pred.CachedWeight)
	}
}

func TestOnEnableWithoutPredictionUsesDefaults(t *testing.T) {
	c := New(nil)
	tsk := &task.Context{}
	c.OnEnable(tsk, nil)

	if tsk.Tier != task.Interactive {
		t.Errorf("Tier = %s, want INTERACTIVE default", tsk.Tier)
	}
	if tsk.AvgRuntime != pconst.DefaultRuntime {
		t.Errorf("AvgRuntime = %s, want default %s", tsk.AvgRuntime, pconst.DefaultRuntime)
	}
}
