package knobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesMixedBaseline(t *testing.T) {
	k := New()
	mixed := MixedBaseline()

	assert.Equal(t, mixed.SliceNS, k.SliceNS())
	assert.Equal(t, mixed.PreemptThreshNS, k.PreemptThreshNS())
	assert.Equal(t, mixed.BatchSliceNS, k.BatchSliceNS())
	assert.Equal(t, mixed.TimerIntervalNS, k.TimerIntervalNS())
}

func TestApplySwapsEveryField(t *testing.T) {
	k := New()
	k.Apply(HeavyBaseline())
	heavy := HeavyBaseline()

	require.Equal(t, heavy.SliceNS, k.SliceNS())
	require.Equal(t, heavy.PreemptThreshNS, k.PreemptThreshNS())
	require.Equal(t, heavy.BatchSliceNS, k.BatchSliceNS())
	require.Equal(t, heavy.TimerIntervalNS, k.TimerIntervalNS())
}

func TestSetSliceNSIsIndependentOfApply(t *testing.T) {
	k := New()
	k.SetSliceNS(9 * time.Millisecond)

	assert.Equal(t, 9*time.Millisecond, k.SliceNS())

	// Apply must not be required to read back a direct Set.
	k.Apply(LightBaseline())
	assert.Equal(t, LightBaseline().SliceNS, k.SliceNS())
}

func TestLagScaleFixedPointRoundTrip(t *testing.T) {
	k := New()
	k.SetLagScale(0.5)
	assert.InDelta(t, 0.5, k.LagScale(), 0.001)

	k.SetLagScale(1.0)
	assert.InDelta(t, 1.0, k.LagScale(), 0.001)
}

func TestSnapshotReflectsLiveState(t *testing.T) {
	k := New()
	k.SetSliceNS(3 * time.Millisecond)
	k.SetBatchSliceNS(12 * time.Millisecond)
	k.SetDemoteThreshNS(5 * time.Millisecond)
	k.SetLagScale(0.75)

	snap := k.Snapshot()
	assert.Equal(t, 3*time.Millisecond, snap.SliceNS)
	assert.Equal(t, 12*time.Millisecond, snap.BatchSliceNS)
	assert.Equal(t, 5*time.Millisecond, snap.DemoteThreshNS)
	assert.InDelta(t, 0.75, snap.LagScale, 0.001)
}
