package knobs

import "testing"

func TestClassifyIdleBands(t *testing.T) {
	tests := []struct {
		idleFrac float64
		want     Regime
	}{
		{0.9, Light},
		{0.51, Light},
		{0.5, Mixed},
		{0.3, Mixed},
		{0.1, Mixed},
		{0.09, Heavy},
		{0.0, Heavy},
	}
	for _, tc := range tests {
		if got := ClassifyIdle(tc.idleFrac); got != tc.want {
			t.Errorf("ClassifyIdle(%.2f) = %s, want %s", tc.idleFrac, got, tc.want)
		}
	}
}

func TestBaselineForMatchesRegime(t *testing.T) {
	if BaselineFor(Light) != LightBaseline() {
		t.Error("BaselineFor(Light) should equal LightBaseline()")
	}
	if BaselineFor(Mixed) != MixedBaseline() {
		t.Error("BaselineFor(Mixed) should equal MixedBaseline()")
	}
	if BaselineFor(Heavy) != HeavyBaseline() {
		t.Error("BaselineFor(Heavy) should equal HeavyBaseline()")
	}
}

func TestRegimeString(t *testing.T) {
	tests := map[Regime]string{
		Light: "LIGHT",
		Mixed: "MIXED",
		Heavy: "HEAVY",
	}
	for regime, want := range tests {
		if got := regime.String(); got != want {
			t.Errorf("Regime(%d).String() = %q, want %q", regime, got, want)
		}
	}
}

func TestHeavyHasWidestP99Ceiling(t *testing.T) {
	// The heavy baseline must tolerate the most tail latency before the
	// reflex worker gives up and tightens; light must tolerate the least.
	if !(LightBaseline().P99Ceiling < MixedBaseline().P99Ceiling &&
		MixedBaseline().P99Ceiling < HeavyBaseline().P99Ceiling) {
		t.Error("P99Ceiling should increase monotonically LIGHT < MIXED < HEAVY")
	}
}
