package bench

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Scenario is one end-to-end check. Each scenario builds its own
// Engine/Knobs/Classifier so scenarios never share mutable simulation
// state, letting the harness run them concurrently.
type Scenario interface {
	Name() string
	Run(ctx context.Context) ScenarioResult
}

// Harness coordinates parallel scenario execution with timeout and
// graceful signal handling.
type Harness struct {
	scenarios []Scenario
	log       zerolog.Logger
	nrCPUs    int
	nrNodes   int
}

// New builds a Harness over the given scenarios.
func New(scenarios []Scenario, log zerolog.Logger, nrCPUs, nrNodes int) *Harness {
	return &Harness{scenarios: scenarios, log: log, nrCPUs: nrCPUs, nrNodes: nrNodes}
}

// Run executes every scenario in parallel, bounded by an overall timeout,
// and returns a Report. It returns a partial report if interrupted by
// SIGINT/SIGTERM.
func (h *Harness) Run(ctx context.Context, timeout time.Duration) (*Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			h.log.Warn().Stringer("signal", sig).Msg("bench: shutting down gracefully (partial report)")
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	tracker := NewTracker()
	tracker.SnapshotBefore()

	var (
		mu      sync.Mutex
		results = make([]ScenarioResult, 0, len(h.scenarios))
		wg      sync.WaitGroup
	)

	for _, s := range h.scenarios {
		wg.Add(1)
		go func(s Scenario) {
			defer wg.Done()
			start := time.Now()
			h.log.Info().Str("scenario", s.Name()).Msg("bench: running")

			result := func() (r ScenarioResult) {
				defer func() {
					if rec := recover(); rec != nil {
						r = ScenarioResult{Name: s.Name(), Passed: false, Error: fmt.Sprintf("panic: %v", rec)}
					}
				}()
				return s.Run(ctx)
			}()
			result.Duration = time.Since(start)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			h.log.Info().Str("scenario", s.Name()).Bool("passed", result.Passed).
				Dur("elapsed", result.Duration).Msg("bench: scenario complete")
		}(s)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	overhead := tracker.SnapshotAfter()
	hostname, _ := os.Hostname()

	return &Report{
		Metadata: Metadata{
			Tool:      "pandemonium",
			Version:   "0.1.0",
			Hostname:  hostname,
			Timestamp: time.Now().UTC(),
			NrCPUs:    h.nrCPUs,
			NrNodes:   h.nrNodes,
		},
		Scenarios: results,
		Summary:   summarize(results),
		Overhead:  overhead,
	}, nil
}

// DefaultNrNodes picks a NUMA node count proportional to CPU count when
// the caller has no topology hint (bench runs standalone, off-host).
func DefaultNrNodes(nrCPUs int) int {
	if nrCPUs <= 0 {
		nrCPUs = runtime.NumCPU()
	}
	switch {
	case nrCPUs <= 4:
		return 1
	case nrCPUs <= 16:
		return 2
	default:
		return 4
	}
}
