package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/wllclngn/pandemonium/internal/task"
)

// Sample is one wakeup-latency record: producer = kernel, consumer =
// reflex worker.
type Sample struct {
	Latency  time.Duration
	SleepDur time.Duration
	ThreadID uint64
	Path     task.Path
	Tier     task.Tier
}

// Stream is a bounded, lock-free ring buffer of Sample. This Go port
// only ever has one consumer (the reflex worker), so SPSC semantics
// suffice while preserving the overflow behavior: the oldest record is
// dropped rather than blocking the producer.
type Stream struct {
	buf    []Sample
	mask   uint64
	head   atomic.Uint64 // next write index
	tail   atomic.Uint64 // next read index
	active atomic.Bool   // true once a consumer has registered

	dropped atomic.Uint64
}

// NewStream allocates a stream with capacity rounded up to the next
// power of two.
func NewStream(capacity int) *Stream {
	n := 1
	for n < capacity {
		n *= 2
	}
	return &Stream{
		buf:  make([]Sample, n),
		mask: uint64(n - 1),
	}
}

// SetActive marks whether a reflex consumer has registered. The core
// reads this without locking before populating the stream.
func (s *Stream) SetActive(active bool) { s.active.Store(active) }

// Active reports whether a consumer is currently registered.
func (s *Stream) Active() bool { return s.active.Load() }

// Push appends a sample, overwriting the oldest entry (and counting a
// drop) if the stream is full.
func (s *Stream) Push(sample Sample) {
	head := s.head.Load()
	tail := s.tail.Load()
	if head-tail >= uint64(len(s.buf)) {
		// Full: drop the oldest by advancing tail past it.
		s.tail.Store(tail + 1)
		s.dropped.Add(1)
	}
	s.buf[head&s.mask] = sample
	s.head.Store(head + 1)
}

// Drain pops up to len(dst) samples in FIFO order into dst, returning
// the number read.
func (s *Stream) Drain(dst []Sample) int {
	n := 0
	for n < len(dst) {
		tail := s.tail.Load()
		head := s.head.Load()
		if tail >= head {
			break
		}
		dst[n] = s.buf[tail&s.mask]
		s.tail.Store(tail + 1)
		n++
	}
	return n
}

// Dropped returns the cumulative count of overflow-dropped samples.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
