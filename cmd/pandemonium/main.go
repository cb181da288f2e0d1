// pandemonium — pluggable Linux task scheduler: a kernel-resident
// behavioral dispatch core plus a userspace adaptive control loop.
//
// Classifies runnable threads by observed wakeup frequency, voluntary
// context-switch rate, and runtime variance, then adapts per-task
// dispatch and a small set of tuning knobs in real time to minimize
// tail wakeup latency without sacrificing throughput.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wllclngn/pandemonium/internal/bench"
	"github.com/wllclngn/pandemonium/internal/bpfcore"
	"github.com/wllclngn/pandemonium/internal/buildenv"
	"github.com/wllclngn/pandemonium/internal/classify"
	"github.com/wllclngn/pandemonium/internal/config"
	"github.com/wllclngn/pandemonium/internal/hostcpu"
	"github.com/wllclngn/pandemonium/internal/knobs"
	"github.com/wllclngn/pandemonium/internal/logging"
	"github.com/wllclngn/pandemonium/internal/mcpserver"
	"github.com/wllclngn/pandemonium/internal/sched"
	"github.com/wllclngn/pandemonium/internal/shellexec"
	"github.com/wllclngn/pandemonium/internal/supervisor"
)

var version = "0.1.0"

func main() {
	var (
		nrCPUs      int
		noAdaptive  bool
		sliceNS     string
		sliceMin    string
		sliceMax    string
		latCriLow   int
		latCriHigh  int
		compositors []string
		buildMode   string
		verbose     bool
		quiet       bool
		dumpLog     string
		lightweight bool
		noLight     bool
		calibrate   bool
		configPath  string
		objectPath  string
		profilePath string
	)

	rootCmd := &cobra.Command{
		Use:     "pandemonium",
		Short:   "Pluggable behavioral Linux task scheduler",
		Version: version,
		Long: `pandemonium — a sched_ext scheduling core plus an adaptive userspace
control loop.

Classifies every runnable thread by wakeup frequency, voluntary
context-switch rate, and mean runtime, then dispatches through a
three-tier multi-queue core with NUMA-scoped overflow and event-driven
preemption. A reflex worker tightens tuning knobs within milliseconds
of a latency regression; a one-second monitor detects workload regime
shifts and rewrites the baseline.`,
	}

	persistent := rootCmd.PersistentFlags()
	persistent.IntVar(&nrCPUs, "nr-cpus", runtime.NumCPU(), "number of CPUs the scheduling core should size itself for")
	persistent.BoolVar(&verbose, "verbose", false, "enable debug logging")
	persistent.BoolVar(&quiet, "quiet", false, "suppress all but warnings")
	persistent.StringVar(&configPath, "config", config.DefaultPath(), "path to config.toml")
	persistent.StringVar(&objectPath, "object", "", "path to the compiled pandemonium.bpf.o (empty: simulated fallback)")
	persistent.StringVar(&profilePath, "profile-db", defaultProfilePath(), "path to the persisted process profile cache")

	// --- run (default) ---
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Attach the scheduling core and run the adaptive control loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisor(supervisorFlags{
				nrCPUs: nrCPUs, noAdaptive: noAdaptive, sliceNS: sliceNS, sliceMin: sliceMin,
				sliceMax: sliceMax, latCriLow: latCriLow, latCriHigh: latCriHigh,
				compositors: compositors, verbose: verbose, quiet: quiet,
				lightweight: lightweight, noLightweight: noLight, calibrate: calibrate,
				configPath: configPath, objectPath: objectPath, profilePath: profilePath,
			})
		},
	}
	addRunFlags(runCmd, &noAdaptive, &sliceNS, &sliceMin, &sliceMax, &latCriLow, &latCriHigh,
		&compositors, &buildMode, &dumpLog, &lightweight, &noLight, &calibrate)

	// --- start (build + run + capture) ---
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Ensure build dependencies, then run with dmesg capture",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr, verbose, quiet)
			inst := &buildenv.Installer{DryRun: false}
			if err := inst.Run(); err != nil {
				log.Warn().Err(err).Msg("build dependency setup failed; continuing")
			}
			if dumpLog == "" {
				dumpLog = "/tmp/pandemonium/dmesg.log"
			}
			go captureDmesg(log, dumpLog)
			return runSupervisor(supervisorFlags{
				nrCPUs: nrCPUs, noAdaptive: noAdaptive, sliceNS: sliceNS, sliceMin: sliceMin,
				sliceMax: sliceMax, latCriLow: latCriLow, latCriHigh: latCriHigh,
				compositors: compositors, verbose: verbose, quiet: quiet,
				lightweight: lightweight, noLightweight: noLight, calibrate: calibrate,
				configPath: configPath, objectPath: objectPath, profilePath: profilePath,
			})
		},
	}
	addRunFlags(startCmd, &noAdaptive, &sliceNS, &sliceMin, &sliceMax, &latCriLow, &latCriHigh,
		&compositors, &buildMode, &dumpLog, &lightweight, &noLight, &calibrate)

	// --- check ---
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report host capabilities (BTF, sched_ext, distro, kernel)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}

	// --- bench ---
	var benchTimeout time.Duration
	var benchOutput string
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the end-to-end scheduling-invariant scenarios and report pass/fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(nrCPUs, benchTimeout, benchOutput, verbose, quiet)
		},
	}
	benchCmd.Flags().DurationVar(&benchTimeout, "timeout", 30*time.Second, "overall bench timeout")
	benchCmd.Flags().StringVarP(&benchOutput, "output", "o", "-", "output file path (- for stdout)")

	// --- test (quick smoke variant of bench) ---
	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Quick smoke test: run the scenario suite with a short timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(nrCPUs, 5*time.Second, "-", verbose, quiet)
		},
	}

	// --- test-scale ---
	testScaleCmd := &cobra.Command{
		Use:   "test-scale",
		Short: "Run the scenario suite across a range of simulated CPU counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestScale(verbose, quiet)
		},
	}

	// --- probe ---
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Interactively print classifier tier/score transitions for a synthetic wake loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(nrCPUs, compositors)
		},
	}
	probeCmd.Flags().StringSliceVar(&compositors, "compositor", nil, "additional compositor short names to treat as LAT_CRITICAL")

	// --- dmesg ---
	dmesgCmd := &cobra.Command{
		Use:   "dmesg",
		Short: "Print sched_ext-related kernel log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDmesg()
		},
	}

	// --- idle-cpus ---
	idleCPUsCmd := &cobra.Command{
		Use:   "idle-cpus",
		Short: "List every CPU sampled from /proc/stat over 100ms (idle threshold 0%)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdleCPUs()
		},
	}

	// --- mcp ---
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the Model Context Protocol (MCP) telemetry server over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(supervisorFlags{
				nrCPUs: nrCPUs, sliceNS: sliceNS, sliceMin: sliceMin, sliceMax: sliceMax,
				compositors: compositors, verbose: verbose, quiet: quiet,
				configPath: configPath, objectPath: objectPath, profilePath: profilePath,
			})
		},
	}

	rootCmd.AddCommand(runCmd, startCmd, checkCmd, benchCmd, testCmd, testScaleCmd,
		probeCmd, dmesgCmd, idleCPUsCmd, mcpCmd)
	rootCmd.RunE = runCmd.RunE

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command, noAdaptive *bool, sliceNS, sliceMin, sliceMax *string,
	latCriLow, latCriHigh *int, compositors *[]string, buildMode *string, dumpLog *string,
	lightweight, noLight *bool, calibrate *bool) {
	f := cmd.Flags()
	f.BoolVar(noAdaptive, "no-adaptive", false, "disable the reflex/monitor control loop")
	f.StringVar(sliceNS, "slice-ns", "", "initial interactive slice ceiling (e.g. 4ms); the monitor's regime baseline replaces it on its first tick unless --no-adaptive")
	f.StringVar(sliceMin, "slice-min", "", "slice floor (accepted but not used; the floor is fixed at 100us)")
	f.StringVar(sliceMax, "slice-max", "", "initial batch slice ceiling; the monitor's regime baseline replaces it on its first tick unless --no-adaptive")
	f.IntVar(latCriLow, "lat-cri-low", 8, "score threshold for INTERACTIVE (accepted but not used; the classifier's threshold is fixed at 8)")
	f.IntVar(latCriHigh, "lat-cri-high", 32, "score threshold for LAT_CRITICAL (accepted but not used; the classifier's threshold is fixed at 32)")
	f.StringSliceVar(compositors, "compositor", nil, "additional compositor short names (repeatable)")
	f.StringVar(buildMode, "build-mode", "release", "build mode for the kernel object (debug|release; accepted but not used)")
	f.StringVar(dumpLog, "dump-log", "", "path to write captured dmesg output (used by start only)")
	f.BoolVar(lightweight, "lightweight", false, "lightweight mode (passed to the supervisor; classification is the same with or without it)")
	f.BoolVar(noLight, "no-lightweight", false, "disable lightweight mode (accepted but not used)")
	f.BoolVar(calibrate, "calibrate", false, "calibration pass (accepted but not used; no calibration is run)")
}

type supervisorFlags struct {
	nrCPUs                      int
	noAdaptive                  bool
	sliceNS, sliceMin, sliceMax string
	latCriLow, latCriHigh       int
	compositors                 []string
	verbose, quiet              bool
	lightweight, noLightweight  bool
	calibrate                   bool
	configPath, objectPath, profilePath string
}

func buildOptions(f supervisorFlags) supervisor.Options {
	cfgFile, _ := config.Load(f.configPath)

	log := logging.New(os.Stderr, f.verbose || cfgFile.Verbose, f.quiet)

	nrCPUs := f.nrCPUs
	if nrCPUs <= 0 {
		nrCPUs = cfgFile.NrCPUs
	}
	if nrCPUs <= 0 {
		nrCPUs = runtime.NumCPU()
	}

	compositors := f.compositors
	if len(compositors) == 0 {
		compositors = cfgFile.Compositors
	}

	return supervisor.Options{
		NrCPUs:      nrCPUs,
		NoAdaptive:  f.noAdaptive || cfgFile.NoAdaptive,
		SliceNS:     config.ParseDurationOr(f.sliceNS, config.ParseDurationOr(cfgFile.SliceNS, 0)),
		SliceMin:    config.ParseDurationOr(f.sliceMin, config.ParseDurationOr(cfgFile.SliceMin, 0)),
		SliceMax:    config.ParseDurationOr(f.sliceMax, config.ParseDurationOr(cfgFile.SliceMax, 0)),
		LatCriLow:   f.latCriLow,
		LatCriHigh:  f.latCriHigh,
		Compositors: compositors,
		Lightweight: f.lightweight || cfgFile.Lightweight,
		ObjectPath:  f.objectPath,
		ProfilePath: f.profilePath,
		Log:         log,
	}
}

func runSupervisor(f supervisorFlags) error {
	opts := buildOptions(f)
	sup := supervisor.New(opts)

	if err := sup.Attach(); err != nil {
		opts.Log.Error().Err(err).Msg("attach failed")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts.Log.Info().Int("nr_cpus", opts.NrCPUs).Msg("pandemonium: control loop starting")
	return sup.Run(ctx)
}

func runMCP(f supervisorFlags) error {
	opts := buildOptions(f)
	sup := supervisor.New(opts)
	if err := sup.Attach(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		_ = sup.Run(ctx)
	}()

	srv := mcpserver.NewServer(version, sup)
	return srv.Start(ctx)
}

func runCheck() error {
	btf := bpfcore.DetectBTF()
	caps := bpfcore.DetectCapabilities()

	fmt.Printf("kernel: %s\n", btf.KernelVersion)
	fmt.Printf("btf available: %v\n", btf.Available)
	fmt.Printf("sched_ext support: %v\n", btf.SchedExtOK)
	for name, ok := range caps {
		fmt.Printf("%s: %v\n", name, ok)
	}

	distro, err := buildenv.DetectDistro()
	if err == nil {
		fmt.Printf("distro: %s %s (%s)\n", distro.ID, distro.VersionID, distro.PkgManager)
	}
	return nil
}

func runBench(nrCPUs int, timeout time.Duration, outputPath string, verbose, quiet bool) error {
	log := logging.New(os.Stderr, verbose, quiet)
	nrNodes := bench.DefaultNrNodes(nrCPUs)

	dir, err := os.MkdirTemp("", "pandemonium-bench-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	scenarios := []bench.Scenario{
		bench.SingleIdleCPU{},
		bench.Contention{NrCPUs: nrCPUs},
		bench.CompositorBoost{},
		bench.RegimeTransition{},
		bench.GuardClamp{},
		bench.ProfilePersistence{Dir: dir},
	}

	h := bench.New(scenarios, log, nrCPUs, nrNodes)
	report, err := h.Run(context.Background(), timeout)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if outputPath == "-" || outputPath == "" {
		fmt.Println(string(data))
	} else {
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return err
		}
	}

	if report.Summary.Failed > 0 {
		return fmt.Errorf("%d/%d scenarios failed", report.Summary.Failed, report.Summary.Total)
	}
	return nil
}

func runTestScale(verbose, quiet bool) error {
	log := logging.New(os.Stderr, verbose, quiet)
	scales := []int{1, 2, 4, 8, 16, 32}

	for _, n := range scales {
		dir, err := os.MkdirTemp("", "pandemonium-scale-")
		if err != nil {
			return err
		}
		scenarios := []bench.Scenario{
			bench.SingleIdleCPU{},
			bench.Contention{NrCPUs: n},
			bench.CompositorBoost{},
			bench.RegimeTransition{},
			bench.GuardClamp{},
			bench.ProfilePersistence{Dir: dir},
		}
		h := bench.New(scenarios, log, n, bench.DefaultNrNodes(n))
		report, err := h.Run(context.Background(), 30*time.Second)
		os.RemoveAll(dir)
		if err != nil {
			return err
		}
		fmt.Printf("nr_cpus=%-3d passed=%d/%d\n", n, report.Summary.Passed, report.Summary.Total)
	}
	return nil
}

func runProbe(nrCPUs int, compositors []string) error {
	k := knobs.New()
	c := classify.New(compositors)
	e := sched.New(nrCPUs, bench.DefaultNrNodes(nrCPUs), k, c)
	e.Init()

	t := e.Enable("probe", nil)
	now := time.Now()

	for i := 0; i < 10; i++ {
		now = now.Add(10 * time.Millisecond)
		e.Runnable(0, t)
		e.Wake(t, now, uint64(i+1), 0)
		got := e.Dispatch(0, now)
		if got == nil {
			got = t
		}
		e.Running(0, got, now)
		fmt.Printf("wake=%-2d tier=%-12s score=%-3d avg_runtime=%s path=%s\n",
			i+1, t.Tier.String(), t.Score, t.AvgRuntime, t.LastPath.String())
		now = now.Add(time.Millisecond)
		e.Stopping(0, got, now)
		e.Dispatch(0, now)
	}
	return nil
}

func runDmesg() error {
	runner := shellexec.NewToolRunner()
	lines, err := runner.DmesgSchedExtLines(context.Background())
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Println(l)
	}
	return nil
}

func runIdleCPUs() error {
	reader := hostcpu.NewReader("/proc")
	idle, err := reader.IdleCPUs(context.Background(), 100*time.Millisecond, 0)
	if err != nil {
		return err
	}
	fmt.Println(idle)
	return nil
}

func captureDmesg(log zerolog.Logger, path string) {
	runner := shellexec.NewToolRunner()
	lines, err := runner.DmesgSchedExtLines(context.Background())
	if err != nil {
		log.Warn().Err(err).Msg("dmesg capture failed")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("dmesg log dir creation failed")
		return
	}
	data := []byte(strings.Join(lines, "\n") + "\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("dmesg log write failed")
	}
}

func defaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.cache/pandemonium/procdb.bin"
}
