// Package profilecache implements the cross-invocation process profile
// cache: an observation map the kernel writes into, a userspace mirror
// that scores stability and confidence, a prediction map the
// classifier's enable callback consults, bounded-capacity eviction, and
// versioned-file persistence.
package profilecache

import (
	"sort"
	"time"

	"github.com/wllclngn/pandemonium/internal/task"
)

// Observation is the raw {short_name, tier, avg_runtime} record the
// classifier writes at task stop once age >= maturity threshold.
type Observation struct {
	ShortName  string
	Tier       task.Tier
	AvgRuntime time.Duration
}

// Entry is the userspace mirror's per-name bookkeeping.
type Entry struct {
	ShortName        string
	Tier             task.Tier
	AvgRuntimeEWMA   time.Duration
	ObservationCount int
	LastSeen         time.Time
	StabilityEWMA    float64 // standard-deviation-like metric, ns
	Confident        bool
}

// Prediction is what the classifier seeds a fresh task from.
type Prediction struct {
	Tier         task.Tier
	AvgRuntime   time.Duration
	CachedWeight int
}

const (
	// maturityAge is the minimum task age before its stop observation is
	// considered worth ingesting.
	maturityAge = 4

	// confidenceObservations and stabilityBound gate when an entry is
	// promoted to "confident".
	confidenceObservations = 5
	stabilityBoundNS       = float64(2 * time.Millisecond)

	defaultCapacity = 4096

	defaultCachedWeight = 128 // BATCH weight, the default
)

// Cache is the single-threaded (monitor-only) userspace mirror plus the
// bounded prediction/observation maps it drains from and pushes to.
type Cache struct {
	capacity    int
	entries     map[string]*Entry
	predictions map[string]Prediction
}

// New creates a Cache with the given bounded capacity (0 uses the
// default).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Cache{
		capacity:    capacity,
		entries:     make(map[string]*Entry),
		predictions: make(map[string]Prediction),
	}
}

// MaturityAge exposes the ingress threshold for callers deciding whether
// a stopping task is mature enough to observe.
func MaturityAge() int { return maturityAge }

// Ingest folds a fresh observation into the mirror's EWMA and stability
// metric, most-recent-wins per key.
func (c *Cache) Ingest(obs Observation, now time.Time) {
	e, ok := c.entries[obs.ShortName]
	if !ok {
		if len(c.entries) >= c.capacity {
			c.evictOne()
		}
		e = &Entry{ShortName: obs.ShortName, AvgRuntimeEWMA: obs.AvgRuntime}
		c.entries[obs.ShortName] = e
	}

	prevMean := e.AvgRuntimeEWMA
	e.AvgRuntimeEWMA = foldDuration(e.AvgRuntimeEWMA, obs.AvgRuntime)
	e.Tier = obs.Tier
	e.ObservationCount++
	e.LastSeen = now

	dev := float64(obs.AvgRuntime - prevMean)
	if dev < 0 {
		dev = -dev
	}
	e.StabilityEWMA = e.StabilityEWMA - e.StabilityEWMA/4 + dev/4

	e.Confident = e.ObservationCount >= confidenceObservations && e.StabilityEWMA <= stabilityBoundNS
	if e.Confident {
		c.predictions[obs.ShortName] = Prediction{
			Tier:         e.Tier,
			AvgRuntime:   e.AvgRuntimeEWMA,
			CachedWeight: defaultCachedWeight,
		}
	}
}

func foldDuration(old, sample time.Duration) time.Duration {
	return old - old/8 + sample/8
}

// Lookup consults the prediction map for name, returning ok=false if no
// confident profile exists.
func (c *Cache) Lookup(name string) (Prediction, bool) {
	p, ok := c.predictions[name]
	return p, ok
}

// Len returns the number of observed entries (confident or not).
func (c *Cache) Len() int { return len(c.entries) }

// ConfidentCount returns the number of confident entries.
func (c *Cache) ConfidentCount() int {
	n := 0
	for _, e := range c.entries {
		if e.Confident {
			n++
		}
	}
	return n
}

// evictOne removes the victim selected by ascending (staleness,
// observation_count, short_name) — deterministic so identical workloads
// produce identical final state.
func (c *Cache) evictOne() {
	if len(c.entries) == 0 {
		return
	}
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.entries[names[i]], c.entries[names[j]]
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.Before(b.LastSeen) // staler (earlier) first
		}
		if a.ObservationCount != b.ObservationCount {
			return a.ObservationCount < b.ObservationCount
		}
		return a.ShortName < b.ShortName
	})
	victim := names[0]
	delete(c.entries, victim)
	delete(c.predictions, victim)
}

// Entries returns a deterministically-ordered snapshot of all entries,
// for persistence and for tests asserting determinism.
func (c *Cache) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}

// LoadPredictions seeds the prediction map directly, used at startup to
// push a persisted file's confident entries before any corrections
// arrive.
func (c *Cache) LoadPredictions(entries []Entry) {
	for _, e := range entries {
		ec := e
		c.entries[e.ShortName] = &ec
		if e.Confident {
			c.predictions[e.ShortName] = Prediction{
				Tier:         e.Tier,
				AvgRuntime:   e.AvgRuntimeEWMA,
				CachedWeight: defaultCachedWeight,
			}
		}
	}
}
