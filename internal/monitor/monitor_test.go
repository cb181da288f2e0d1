package monitor

import (
	"testing"
	"time"

	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/profilecache"
)

func TestNewStartsInMixedRegime(t *testing.T) {
	w := New(knobs.New(), profilecache.New(0))
	if w.Regime() != knobs.Mixed {
		t.Errorf("Regime() = %s, want MIXED", w.Regime())
	}
	if w.Hibernating() {
		t.Error("a fresh Worker should not start hibernating")
	}
}

// TestSchmittTriggerRequiresTwoConsecutiveTicks verifies a single
// off-regime reading does not commit a transition, but two in a row do.
func TestSchmittTriggerRequiresTwoConsecutiveTicks(t *testing.T) {
	w := New(knobs.New(), profilecache.New(0))
	now := time.Now()

	r1 := w.Tick(now, 0.9, false, false) // LIGHT idle fraction, once
	if r1.Transitioned {
		t.Error("a single off-regime tick should not commit a transition")
	}
	if w.Regime() != knobs.Mixed {
		t.Errorf("Regime() after one tick = %s, want still MIXED", w.Regime())
	}

	r2 := w.Tick(now.Add(time.Second), 0.9, false, false) // LIGHT again
	if !r2.Transitioned {
		t.Error("two consecutive off-regime ticks should commit the transition")
	}
	if w.Regime() != knobs.Light {
		t.Errorf("Regime() after two ticks = %s, want LIGHT", w.Regime())
	}
}

func TestSchmittTriggerResetsOnFlapping(t *testing.T) {
	w := New(knobs.New(), profilecache.New(0))
	now := time.Now()

	w.Tick(now, 0.9, false, false)              // pending LIGHT, count 1
	w.Tick(now.Add(time.Second), 0.05, false, false) // pending HEAVY, resets LIGHT's streak
	r := w.Tick(now.Add(2*time.Second), 0.9, false, false) // pending LIGHT again, count 1

	if r.Transitioned {
		t.Error("a flapping classification should not commit after a reset")
	}
	if w.Regime() != knobs.Mixed {
		t.Errorf("Regime() = %s, want still MIXED after flapping", w.Regime())
	}
}

func TestHibernationEngagesAfterStableTicks(t *testing.T) {
	w := New(knobs.New(), profilecache.New(0))
	now := time.Now()

	for i := 0; i < StableTicksForHibernation; i++ {
		w.Tick(now, 0.3, false, false) // stays MIXED, no guard fires
		now = now.Add(time.Second)
	}
	if !w.Hibernating() {
		t.Error("Worker should be hibernating after enough consecutive stable ticks")
	}
}

func TestGuardFiringPreventsHibernation(t *testing.T) {
	w := New(knobs.New(), profilecache.New(0))
	now := time.Now()

	for i := 0; i < StableTicksForHibernation+5; i++ {
		w.Tick(now, 0.3, false, true) // guardFired every tick
		now = now.Add(time.Second)
	}
	if w.Hibernating() {
		t.Error("a continuously-firing guard should block stability hibernation")
	}
}

func TestPollIntervalDoublesWhenHibernating(t *testing.T) {
	w := New(knobs.New(), profilecache.New(0))
	if w.PollInterval() != time.Second {
		t.Errorf("PollInterval() before hibernation = %s, want 1s", w.PollInterval())
	}

	now := time.Now()
	for i := 0; i < StableTicksForHibernation; i++ {
		w.Tick(now, 0.3, false, false)
		now = now.Add(time.Second)
	}
	if w.PollInterval() != 2*time.Second {
		t.Errorf("PollInterval() while hibernating = %s, want 2s", w.PollInterval())
	}
	if w.ReflexPollDivisor() != 4 {
		t.Errorf("ReflexPollDivisor() while hibernating = %d, want 4", w.ReflexPollDivisor())
	}
}

func TestIngestObservationsDelegatesToProfileCache(t *testing.T) {
	cache := profilecache.New(0)
	w := New(knobs.New(), cache)

	w.IngestObservations([]profilecache.Observation{
		{ShortName: "steady", AvgRuntime: time.Millisecond},
	}, time.Now())

	if cache.Len() != 1 {
		t.Errorf("cache.Len() = %d, want 1 after IngestObservations", cache.Len())
	}
}
