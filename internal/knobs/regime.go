package knobs

import "time"

// Regime is the system-load classification driving baseline knobs.
type Regime int

const (
	Light Regime = iota
	Mixed
	Heavy
)

func (r Regime) String() string {
	switch r {
	case Light:
		return "LIGHT"
	case Heavy:
		return "HEAVY"
	default:
		return "MIXED"
	}
}

// Baseline is one row of the regime profile table.
type Baseline struct {
	SliceNS         time.Duration
	PreemptThreshNS time.Duration
	BatchSliceNS    time.Duration
	TimerIntervalNS time.Duration
	P99Ceiling      time.Duration
}

// LightBaseline, MixedBaseline, HeavyBaseline return the default regime
// profiles, verbatim.
func LightBaseline() Baseline {
	return Baseline{
		SliceNS:         4 * time.Millisecond,
		PreemptThreshNS: 4 * time.Millisecond,
		BatchSliceNS:    20 * time.Millisecond,
		TimerIntervalNS: 0,
		P99Ceiling:      5 * time.Millisecond,
	}
}

func MixedBaseline() Baseline {
	return Baseline{
		SliceNS:         4 * time.Millisecond,
		PreemptThreshNS: 2 * time.Millisecond,
		BatchSliceNS:    8 * time.Millisecond,
		TimerIntervalNS: 10 * time.Millisecond,
		P99Ceiling:      10 * time.Millisecond,
	}
}

func HeavyBaseline() Baseline {
	return Baseline{
		SliceNS:         8 * time.Millisecond,
		PreemptThreshNS: 4 * time.Millisecond,
		BatchSliceNS:    4 * time.Millisecond,
		TimerIntervalNS: 5 * time.Millisecond,
		P99Ceiling:      20 * time.Millisecond,
	}
}

// BaselineFor returns the default profile for a regime.
func BaselineFor(r Regime) Baseline {
	switch r {
	case Light:
		return LightBaseline()
	case Heavy:
		return HeavyBaseline()
	default:
		return MixedBaseline()
	}
}

// ClassifyIdle applies the LIGHT/MIXED/HEAVY thresholds to an idle
// fraction in [0,1]. Schmitt-triggering (persist two ticks before
// transition) is the monitor worker's responsibility, not this pure
// function's.
func ClassifyIdle(idleFrac float64) Regime {
	switch {
	case idleFrac > 0.5:
		return Light
	case idleFrac < 0.1:
		return Heavy
	default:
		return Mixed
	}
}
