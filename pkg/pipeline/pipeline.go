package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyPipeline is returned by [New] when no processors are given.
var ErrEmptyPipeline = errors.New("pipeline: at least one processor required")

// Pipeline is a fixed, ordered, linear chain of processors. It is purely a
// topology container: it links each processor to its neighbours and holds no
// per-frame logic. The two boundary ends (upstream of the first processor,
// downstream of the last) are adapted by the owning [Task].
//
// Topology is validated at construction and immutable afterwards; a
// processor instance belongs to at most one pipeline.
type Pipeline struct {
	procs []Processor
}

// New validates and creates a pipeline from the ordered processor chain.
// It rejects an empty chain, nil entries, and duplicate entries (a processor
// appearing twice would create a cycle).
func New(procs ...Processor) (*Pipeline, error) {
	if len(procs) == 0 {
		return nil, ErrEmptyPipeline
	}
	seen := make(map[Processor]struct{}, len(procs))
	for i, p := range procs {
		if p == nil {
			return nil, fmt.Errorf("pipeline: processor at position %d is nil", i)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("pipeline: processor %q appears more than once", p.Name())
		}
		seen[p] = struct{}{}
	}
	return &Pipeline{procs: procs}, nil
}

// Len returns the number of processors in the chain.
func (p *Pipeline) Len() int { return len(p.procs) }

// Names returns the processor names in chain order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.procs))
	for i, proc := range p.procs {
		names[i] = proc.Name()
	}
	return names
}

// wire attaches every processor's links: each downstream pointer goes to the
// next entry and each upstream pointer to the previous one; the chain ends
// link to the task's boundary receivers. Fails if any processor already
// belongs to another pipeline.
func (p *Pipeline) wire(source, sink Receiver) error {
	for i, proc := range p.procs {
		var up Receiver = source
		if i > 0 {
			up = p.procs[i-1]
		}
		var down Receiver = sink
		if i < len(p.procs)-1 {
			down = p.procs[i+1]
		}
		if err := proc.attach(up, down); err != nil {
			return fmt.Errorf("pipeline: wire %q: %w", proc.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) first() Processor { return p.procs[0] }
func (p *Pipeline) last() Processor  { return p.procs[len(p.procs)-1] }
