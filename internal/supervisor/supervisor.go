// Package supervisor wires the kernel-attach attempt, the reflex and
// monitor workers, and the process profile cache into the single
// long-running process behind the `run` subcommand. It is the Go
// analogue of internal/orchestrator's flag-to-component wiring,
// generalized from parallel one-shot collectors to two cooperating
// long-lived workers.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/wllclngn/pandemonium/bpf"
	"github.com/wllclngn/pandemonium/internal/bpfcore"
	"github.com/wllclngn/pandemonium/internal/classify"
	"github.com/wllclngn/pandemonium/internal/hostcpu"
	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/monitor"
	"github.com/wllclngn/pandemonium/internal/profilecache"
	"github.com/wllclngn/pandemonium/internal/reflex"
	"github.com/wllclngn/pandemonium/internal/sched"
	"github.com/wllclngn/pandemonium/internal/telemetry"
)

// Options configures a Supervisor, mapping directly to the `run` flags.
type Options struct {
	NrCPUs      int
	NoAdaptive  bool
	SliceNS     time.Duration
	SliceMin    time.Duration
	SliceMax    time.Duration
	LatCriLow   int
	LatCriHigh  int
	Compositors []string
	Lightweight bool
	ObjectPath  string
	ProfilePath string
	Log         zerolog.Logger
}

// Supervisor owns every long-lived piece of the userspace side: the
// attach attempt (or its simulated fallback), the tuning knobs, the
// reflex and monitor workers, and the profile cache. It implements
// mcpserver.StateProvider directly.
type Supervisor struct {
	opts Options
	log  zerolog.Logger

	knobs     *knobs.Knobs
	classify  *classify.Classifier
	profile   *profilecache.Cache
	histogram *telemetry.LatencyHistogram
	reflex    *reflex.Worker
	monitor   *monitor.Worker
	cpuReader *hostcpu.Reader

	loaded       *bpfcore.LoadedProgram // nil when running the simulated fallback
	engine       *sched.Engine          // non-nil only in the simulated fallback
	sampleReader *bpf.SampleReader      // non-nil only on the attached kernel path

	streamBuf [64]telemetry.Sample // reused each reflex tick to drain engine.Stream

	lastIdlePct    float64
	lastIOSleepPct float64
}

// New builds a Supervisor from Options but does not yet attach or start
// the workers.
func New(opts Options) *Supervisor {
	k := knobs.New()
	if opts.SliceNS > 0 {
		k.SetSliceNS(opts.SliceNS)
	}
	if opts.SliceMax > 0 {
		k.SetBatchSliceNS(opts.SliceMax)
	}

	cache := profilecache.New(0)
	if entries, err := profilecache.Load(opts.ProfilePath); err == nil && entries != nil {
		cache.LoadPredictions(entries)
	}

	hist := &telemetry.LatencyHistogram{}

	return &Supervisor{
		opts:      opts,
		log:       opts.Log,
		knobs:     k,
		classify:  classify.New(opts.Compositors),
		profile:   cache,
		histogram: hist,
		reflex:    reflex.New(hist, k),
		monitor:   monitor.New(k, cache),
		cpuReader: hostcpu.NewReader("/proc"),
	}
}

// Attach tries to load the kernel-resident dispatch core. If the host
// lacks BTF/sched_ext support the Supervisor falls back to driving the
// pure-Go internal/sched simulation against real host idle-fraction
// samples, so the adaptive control loop and telemetry line still have
// something truthful to report in environments this exercise can
// actually run in. An attach failure on the real kernel path is fatal;
// the simulated fallback is this Supervisor's own concession, not part
// of the scheduling core's contract.
func (s *Supervisor) Attach() error {
	loader := bpfcore.NewLoader()
	if loader.CanLoad() && s.opts.ObjectPath != "" {
		prog, err := loader.TryLoad(bpfcore.ProgramSpec{
			ObjectPath:   s.opts.ObjectPath,
			StructOpsMap: "pandemonium_ops",
		})
		if err != nil {
			return fmt.Errorf("attach dispatch core: %w", err)
		}
		s.loaded = prog
		if err := bpf.WriteKnobs(prog.KnobsMap, s.knobs.Snapshot()); err != nil {
			s.log.Warn().Err(err).Msg("initial knobs write failed")
		}
		if prog.SamplesMap != nil {
			rd, err := bpf.NewSampleReader(prog.SamplesMap)
			if err != nil {
				s.log.Warn().Err(err).Msg("samples_map ringbuf open failed; reflex will see a flat P99")
			} else {
				s.sampleReader = rd
			}
		}
		s.log.Info().Msg("dispatch core attached")
		return nil
	}

	nrCPUs := s.opts.NrCPUs
	if nrCPUs <= 0 {
		nrCPUs = 4
	}
	nrNodes := simNodes(nrCPUs)
	s.engine = sched.New(nrCPUs, nrNodes, s.knobs, s.classify)
	s.engine.Init()
	s.engine.Stream.SetActive(true)
	s.log.Warn().Msg("no BTF/sched_ext support detected; running the simulated fallback")
	return nil
}

func simNodes(nrCPUs int) int {
	switch {
	case nrCPUs <= 4:
		return 1
	case nrCPUs <= 16:
		return 2
	default:
		return 4
	}
}

// Run starts the reflex and monitor workers and blocks until ctx is
// canceled, then flushes stats and persists the profile cache.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.shutdown()

	if s.opts.NoAdaptive {
		<-ctx.Done()
		return nil
	}

	reflexTicker := time.NewTicker(time.Millisecond)
	defer reflexTicker.Stop()
	monitorTicker := time.NewTicker(time.Second)
	defer monitorTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reflexTicker.C:
			s.reflexTick()
			if s.monitor.Hibernating() {
				reflexTicker.Reset(time.Duration(s.monitor.ReflexPollDivisor()) * time.Millisecond)
			} else {
				reflexTicker.Reset(time.Millisecond)
			}
		case <-monitorTicker.C:
			s.monitorTick()
			monitorTicker.Reset(s.monitor.PollInterval())
		}
	}
}

func (s *Supervisor) reflexTick() {
	s.drainSamples()

	now := time.Now()
	result := s.reflex.Poll(now, s.monitor.Regime(), knobs.BaselineFor(s.monitor.Regime()).P99Ceiling)
	if s.loaded != nil {
		if err := bpf.WriteKnobs(s.loaded.KnobsMap, s.knobs.Snapshot()); err != nil {
			s.log.Warn().Err(err).Msg("reflex knob write failed")
		}
	}
	if result.Tightened {
		s.log.Debug().Str("p99", result.P99.String()).Msg("reflex: tightened knobs")
	}
	// P99 is windowed to one reflex tick: reset now that Poll has read it,
	// so the next tick's tighten/relax decision reflects fresh samples
	// instead of a lifetime-accumulating percentile.
	s.histogram.Reset()
}

func (s *Supervisor) monitorTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	sample, err := s.cpuReader.Sample(ctx, 100*time.Millisecond)
	idleFraction := 0.5
	if err == nil {
		idleFraction = sample.IdlePct / 100
		s.lastIdlePct = sample.IdlePct
		s.lastIOSleepPct = sample.IOWaitPct
	} else {
		s.log.Warn().Err(err).Msg("host CPU sample failed; classifying this tick at 50% idle")
	}

	guardFired := s.guardFiredSinceLastTick()
	result := s.monitor.Tick(time.Now(), idleFraction, s.reflex.Tightened(), guardFired)

	if s.loaded != nil {
		if err := bpf.WriteKnobs(s.loaded.KnobsMap, s.knobs.Snapshot()); err != nil {
			s.log.Warn().Err(err).Msg("monitor knob write failed")
		}
	}

	totals := s.StatsTotals()
	line := monitor.Line(time.Now(), result.Regime, totals, reflex.TickResult{P99: s.reflex.LastP99()},
		s.profile.Len(), s.profile.ConfidentCount(), s.lastIdlePct, s.lastIOSleepPct, s.knobs.Snapshot(), totals.GuardClamps)
	s.log.Info().Msg(line)
}

// drainSamples folds whatever wakeup-latency samples have accumulated
// since the last reflex tick into the histogram Poll reads P99 from:
// the ring buffer on the attached kernel path, the in-process Stream on
// the simulated fallback.
func (s *Supervisor) drainSamples() {
	if s.sampleReader != nil {
		if _, err := s.sampleReader.Drain(s.histogram, len(s.streamBuf)); err != nil {
			s.log.Warn().Err(err).Msg("samples_map drain failed")
		}
		return
	}
	if s.engine == nil {
		return
	}
	for {
		n := s.engine.Stream.Drain(s.streamBuf[:])
		for i := 0; i < n; i++ {
			s.histogram.Add(s.streamBuf[i].Latency)
		}
		if n < len(s.streamBuf) {
			return
		}
	}
}

func (s *Supervisor) guardFiredSinceLastTick() bool {
	if s.engine == nil {
		return false
	}
	return s.engine.Guard.InteractiveWaiting()
}

func (s *Supervisor) shutdown() {
	if s.sampleReader != nil {
		if err := s.sampleReader.Close(); err != nil {
			s.log.Warn().Err(err).Msg("samples_map ringbuf close failed")
		}
	}
	if s.loaded != nil {
		if err := s.loaded.Detach(); err != nil {
			s.log.Warn().Err(err).Msg("detach failed")
		}
	}
	entries := s.profile.Entries()
	if err := profilecache.Persist(s.opts.ProfilePath, entries); err != nil {
		s.log.Warn().Err(err).Msg("profile persistence failed")
	}
}

// --- mcpserver.StateProvider ---

func (s *Supervisor) Regime() knobs.Regime { return s.monitor.Regime() }

func (s *Supervisor) Hibernating() bool { return s.monitor.Hibernating() }

func (s *Supervisor) KnobSnapshot() knobs.Snapshot { return s.knobs.Snapshot() }

func (s *Supervisor) StatsTotals() telemetry.Totals {
	if s.loaded != nil {
		totals, err := bpf.ReadStats(s.loaded.StatsMap)
		if err == nil {
			return totals
		}
		s.log.Warn().Err(err).Msg("stats_map read failed")
	}
	if s.engine != nil {
		return s.engine.Stats.Aggregate()
	}
	return telemetry.Totals{}
}

func (s *Supervisor) ProfileCacheLen() int { return s.profile.Len() }

func (s *Supervisor) ProfileCacheConfident() int { return s.profile.ConfidentCount() }

func (s *Supervisor) ProfileCacheEntries() []profilecache.Entry { return s.profile.Entries() }

// Hostname is a small convenience the cmd layer uses for the MCP
// server's identity string.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
