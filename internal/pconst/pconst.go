// Package pconst holds the fixed-point constants shared by the BPF
// scheduling core (bpf/pandemonium.bpf.c) and its Go-side simulation
// (internal/sched, internal/classify, internal/dispatch); the BPF core
// repeats the values it needs as #defines. Keeping both sides on the
// same values is what lets the simulation stand
// in for the kernel core in bench/test-scale runs and in unit tests of
// the documented invariants.
package pconst

import "time"

// Tiering thresholds, in raw lat_cri score units (0-255).
const (
	ScoreLatCritical = 32
	ScoreInteractive = 8
	MaxLatCriScore   = 255
)

// EWMA ages and caps.
const (
	YoungAgeThreshold = 8  // age < this uses the fast-converging fold
	MaxAge            = 16 // age counter saturates here
	FirstSeenAge      = 2  // below this, classifier does not touch signals
)

// Signal caps (per 100ms window).
const (
	MaxWakeupFreq = 64
	MaxCSWRate    = 512
)

// Default runtime used before any samples exist.
const DefaultRuntime = 100 * time.Microsecond

// Slice floors/ceilings.
const (
	SliceMin = 100 * time.Microsecond
)

// Guard window clamp applied to batch slices while guard_until is active.
const GuardClampSlice = 200 * time.Microsecond

// GuardWindow is how long a guard clamp lasts once armed.
const GuardWindow = 1 * time.Millisecond

// Per-tier awake-vtime caps, preventing boost exploitation by wake-loops.
const (
	AwakeVtimeCapLatCritical = 20 * time.Millisecond
	AwakeVtimeCapInteractive = 30 * time.Millisecond
	AwakeVtimeCapBatch       = 40 * time.Millisecond
)

// Effective-weight tier multipliers (divided by 128).
const (
	WeightMulLatCritical = 256
	WeightMulInteractive = 192
	WeightMulBatch       = 128
)

// LagCap bounds how far dsq_vtime may lag behind vtime_now.
const LagCap = 30 * time.Millisecond

// Queue-pressure thresholds that shrink lag_scale.
const (
	QueuePressureHalve = 4 // lag_scale halved when a queue holds more than this
	QueuePressureForce = 8 // lag_scale forced to 1 when a queue holds more than this
)

// DefaultNiceWeight is the effective weight of a nice-0 task before tier scaling.
const DefaultNiceWeight = 128

// BatchDemoteDefaultThreshold is the default demote_thresh_ns knob value
// (a knob, not a constant, by design).
const BatchDemoteDefaultThreshold = 2500 * time.Microsecond

// MaxCPUs / MaxNodes bound every scan loop so callbacks stay O(1)-ish and
// liveness holds regardless of host size.
const (
	MaxCPUs  = 1024
	MaxNodes = 16
)

// ShortNameLen is the fixed width of a process short name cache key.
const ShortNameLen = 16

// DefaultCompositors are unconditionally promoted to LAT_CRITICAL.
var DefaultCompositors = []string{
	"kwin", "kwin_wayland", "kwin_x11", "sway", "Hyprland", "gnome-shell", "picom", "weston",
}
