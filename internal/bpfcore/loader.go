package bpfcore

import (
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// ProgramSpec identifies a struct_ops program/map pair within the
// compiled object produced from bpf/pandemonium.bpf.c.
type ProgramSpec struct {
	ObjectPath   string
	StructOpsMap string // e.g. "pandemonium_ops"
}

// LoadedProgram holds the live handles for an attached scheduling core.
type LoadedProgram struct {
	Collection *ebpf.Collection
	StructOps  *ebpf.Map
	Link       link.Link

	KnobsMap   *ebpf.Map
	StatsMap   *ebpf.Map
	SamplesMap *ebpf.Map
}

// Loader attaches the compiled sched_ext core, falling back to reporting
// why it could not when the host lacks BTF/CO-RE or sched_ext support.
type Loader struct {
	btf *BTFInfo
}

// NewLoader probes the host's BTF/CO-RE capability at construction time.
func NewLoader() *Loader {
	return &Loader{btf: DetectBTF()}
}

// CanLoad reports whether the host appears able to run the scheduling
// core at all (BTF present, kernel new enough for sched_ext).
func (l *Loader) CanLoad() bool {
	return l.btf.Available && l.btf.SchedExtOK
}

// LoadError describes why a load/attach attempt failed, distinguishing
// capability gaps (no retry) from load-time errors (retryable by the
// supervisor's attach-failure path).
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *LoadError) Unwrap() error { return e.Err }

// TryLoad loads the compiled object at spec.ObjectPath, looks up the knob,
// stats and sample-stream maps the userspace workers need, and attaches
// the struct_ops program to the scheduler class. Full struct_ops
// lifecycle (register/unregister, watchdog timeout handling) is kernel-
// and cilium/ebpf-version-specific; the attach step here follows an
// open-collection-then-link shape, generalized to a struct_ops map
// reference.
func (l *Loader) TryLoad(spec ProgramSpec) (*LoadedProgram, error) {
	if !l.CanLoad() {
		return nil, &LoadError{Reason: "host lacks BTF or sched_ext support"}
	}

	f, err := os.Open(spec.ObjectPath)
	if err != nil {
		return nil, &LoadError{Reason: "open object file", Err: err}
	}
	defer f.Close()

	coll, err := ebpf.LoadCollection(spec.ObjectPath)
	if err != nil {
		return nil, &LoadError{Reason: "load collection", Err: err}
	}

	prog := &LoadedProgram{Collection: coll}

	if m, ok := coll.Maps["knobs_map"]; ok {
		prog.KnobsMap = m
	}
	if m, ok := coll.Maps["stats_map"]; ok {
		prog.StatsMap = m
	}
	if m, ok := coll.Maps["samples_map"]; ok {
		prog.SamplesMap = m
	}

	structOps, ok := coll.Maps[spec.StructOpsMap]
	if !ok {
		coll.Close()
		return nil, &LoadError{Reason: fmt.Sprintf("struct_ops map %q not found in object", spec.StructOpsMap)}
	}
	prog.StructOps = structOps

	lnk, err := link.AttachRawLink(link.RawLinkOptions{
		Target:  int(structOps.FD()),
		Program: coll.Programs["pandemonium_dispatch"],
		Attach:  ebpf.AttachStructOps,
	})
	if err != nil {
		coll.Close()
		return nil, &LoadError{Reason: "attach struct_ops", Err: err}
	}
	prog.Link = lnk

	return prog, nil
}

// Detach releases the struct_ops link and the underlying collection,
// restoring the prior scheduling class (CFS) once the kernel completes
// the unregister callback.
func (p *LoadedProgram) Detach() error {
	var err error
	if p.Link != nil {
		err = p.Link.Close()
	}
	if p.Collection != nil {
		p.Collection.Close()
	}
	return err
}
