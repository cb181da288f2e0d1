package task

import (
	"testing"

	"github.com/wllclngn/pandemonium/internal/pconst"
)

func TestNewTruncatesShortName(t *testing.T) {
	long := "a-very-long-thread-name-indeed"
	c := New(long)
	if len(c.ShortName) != pconst.ShortNameLen {
		t.Errorf("ShortName length = %d, want %d", len(c.ShortName), pconst.ShortNameLen)
	}
	if c.ShortName != long[:pconst.ShortNameLen] {
		t.Errorf("ShortName = %q, want prefix %q", c.ShortName, long[:pconst.ShortNameLen])
	}
}

func TestNewStartsInteractiveFastPath(t *testing.T) {
	c := New("firefox")
	if c.Tier != Interactive {
		t.Errorf("Tier = %s, want INTERACTIVE (first-seen fast path)", c.Tier)
	}
	if c.Age != 0 {
		t.Errorf("Age = %d, want 0", c.Age)
	}
	if c.AvgRuntime != pconst.DefaultRuntime {
		t.Errorf("AvgRuntime = %s, want %s", c.AvgRuntime, pconst.DefaultRuntime)
	}
}

func TestBumpAgeSaturatesAtCap(t *testing.T) {
	c := New("x")
	for i := 0; i < pconst.MaxAge+10; i++ {
		c.BumpAge()
	}
	if c.Age != pconst.MaxAge {
		t.Errorf("Age = %d, want saturated at %d", c.Age, pconst.MaxAge)
	}
}

func TestAwakeVtimeCapByTier(t *testing.T) {
	c := New("x")

	c.Tier = Batch
	if c.AwakeVtimeCap() != pconst.AwakeVtimeCapBatch {
		t.Errorf("BATCH cap = %s, want %s", c.AwakeVtimeCap(), pconst.AwakeVtimeCapBatch)
	}
	c.Tier = Interactive
	if c.AwakeVtimeCap() != pconst.AwakeVtimeCapInteractive {
		t.Errorf("INTERACTIVE cap = %s, want %s", c.AwakeVtimeCap(), pconst.AwakeVtimeCapInteractive)
	}
	c.Tier = LatCritical
	if c.AwakeVtimeCap() != pconst.AwakeVtimeCapLatCritical {
		t.Errorf("LAT_CRITICAL cap = %s, want %s", c.AwakeVtimeCap(), pconst.AwakeVtimeCapLatCritical)
	}
}

func TestTierStringAndPathString(t *testing.T) {
	if Batch.String() != "BATCH" || Interactive.String() != "INTERACTIVE" || LatCritical.String() != "LAT_CRITICAL" {
		t.Error("Tier.String() mismatch")
	}
	if PathIdle.String() != "idle" || PathHardKick.String() != "hard-kick" || PathSoftKick.String() != "soft-kick" {
		t.Error("Path.String() mismatch")
	}
}
