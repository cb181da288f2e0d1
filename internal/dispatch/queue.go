// Package dispatch implements the dispatch-queue family:
// N per-CPU queues and M per-NUMA-node overflow queues, each supporting
// vtime-ordered insert, FIFO append, local drain, and cross-queue steal.
package dispatch

import (
	"time"

	"github.com/wllclngn/pandemonium/internal/task"
)

// LocalQueueID is the sentinel CPU-local queue ID used by callers that
// need to distinguish a CPU-local insert from a node-overflow insert.
const LocalQueueID = -1

// Entry pairs a task with the deadline it was inserted under, so ties are
// broken by insertion order.
type Entry struct {
	Task     *task.Context
	Deadline time.Duration
	seq      uint64
}

// Queue is a single vtime-ordered (or FIFO) run queue.
type Queue struct {
	entries []Entry
	nextSeq uint64
}

// InsertVtime inserts t keeping entries sorted ascending by deadline,
// ties broken by insertion sequence.
func (q *Queue) InsertVtime(t *task.Context, deadline time.Duration) {
	e := Entry{Task: t, Deadline: deadline, seq: q.nextSeq}
	q.nextSeq++

	i := len(q.entries)
	for i > 0 && q.entries[i-1].Deadline > deadline {
		i--
	}
	q.entries = append(q.entries, Entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// Append adds t to the tail, FIFO order (used for overflow re-enqueue).
func (q *Queue) Append(t *task.Context) {
	q.entries = append(q.entries, Entry{Task: t, seq: q.nextSeq})
	q.nextSeq++
}

// Drain pops and returns the head entry's task, or nil if empty.
func (q *Queue) Drain() *task.Context {
	if len(q.entries) == 0 {
		return nil
	}
	t := q.entries[0].Task
	q.entries = q.entries[1:]
	return t
}

// Peek returns the head task without removing it.
func (q *Queue) Peek() *task.Context {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0].Task
}

// Len reports queue depth, used by lag_scale queue-pressure shrinking.
func (q *Queue) Len() int { return len(q.entries) }

// Steal removes and returns the head entry's task for a different CPU's
// drain loop to run.
func (q *Queue) Steal() *task.Context { return q.Drain() }

// Queues owns the full per-CPU / per-node queue family for a running
// instance.
type Queues struct {
	perCPU  []Queue // indexed by CPU id
	perNode []Queue // indexed by NUMA node id
}

// NewQueues allocates nCPUs per-CPU queues and nNodes per-node overflow
// queues.
func NewQueues(nCPUs, nNodes int) *Queues {
	return &Queues{
		perCPU:  make([]Queue, nCPUs),
		perNode: make([]Queue, nNodes),
	}
}

// CPU returns the local queue for a CPU id.
func (q *Queues) CPU(id int) *Queue { return &q.perCPU[id] }

// Node returns the overflow queue for a NUMA node id.
func (q *Queues) Node(id int) *Queue { return &q.perNode[id] }

// NumCPUs / NumNodes expose the bounds every scan loop must respect.
func (q *Queues) NumCPUs() int { return len(q.perCPU) }
func (q *Queues) NumNodes() int { return len(q.perNode) }

// StealFromOtherNodes drains one task from the first non-empty node
// overflow queue other than excludeNode.
func (q *Queues) StealFromOtherNodes(excludeNode int) (*task.Context, int) {
	for n := range q.perNode {
		if n == excludeNode {
			continue
		}
		if t := q.perNode[n].Steal(); t != nil {
			return t, n
		}
	}
	return nil, -1
}
