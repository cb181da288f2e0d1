package sched

import "github.com/wllclngn/pandemonium/internal/pconst"

// Topology maps CPU ids to NUMA node ids and tracks each node's idle-CPU
// set, updated in place by MarkBusy/MarkIdle as CPUs are claimed and
// released, and exposed to userspace tooling through IdleBitmap. The
// periodic preemption scan does not touch it.
type Topology struct {
	cpuNode []int
	nodeCPU [][]int
	idle    []bool // indexed by CPU id
}

// NewTopology builds a Topology for nCPUs spread evenly across nNodes.
func NewTopology(nCPUs, nNodes int) *Topology {
	if nNodes < 1 {
		nNodes = 1
	}
	if nCPUs > pconst.MaxCPUs {
		nCPUs = pconst.MaxCPUs
	}
	if nNodes > pconst.MaxNodes {
		nNodes = pconst.MaxNodes
	}
	t := &Topology{
		cpuNode: make([]int, nCPUs),
		nodeCPU: make([][]int, nNodes),
		idle:    make([]bool, nCPUs),
	}
	for cpu := 0; cpu < nCPUs; cpu++ {
		node := cpu % nNodes
		t.cpuNode[cpu] = node
		t.nodeCPU[node] = append(t.nodeCPU[node], cpu)
		t.idle[cpu] = true
	}
	return t
}

func (t *Topology) NumCPUs() int  { return len(t.cpuNode) }
func (t *Topology) NumNodes() int { return len(t.nodeCPU) }

// NodeOf returns the NUMA node owning a CPU.
func (t *Topology) NodeOf(cpu int) int { return t.cpuNode[cpu] }

// MarkIdle / MarkBusy update the per-node idle-CPU set.
func (t *Topology) MarkIdle(cpu int) { t.idle[cpu] = true }
func (t *Topology) MarkBusy(cpu int) { t.idle[cpu] = false }

// IsIdle reports whether cpu is currently marked idle.
func (t *Topology) IsIdle(cpu int) bool { return t.idle[cpu] }

// PickIdleInNode returns an idle CPU in node, or -1 if none.
func (t *Topology) PickIdleInNode(node int) int {
	for _, cpu := range t.nodeCPU[node] {
		if t.idle[cpu] {
			return cpu
		}
	}
	return -1
}

// AnyCPUInNode returns any CPU in node (used for tier 2a placement,
// which does not require the CPU to be idle).
func (t *Topology) AnyCPUInNode(node int) int {
	if len(t.nodeCPU[node]) == 0 {
		return -1
	}
	return t.nodeCPU[node][0]
}

// IdleBitmap returns a snapshot of the per-CPU idle flags, exposed to
// userspace tooling.
func (t *Topology) IdleBitmap() []bool {
	out := make([]bool, len(t.idle))
	copy(out, t.idle)
	return out
}
