// Package pipeline implements the voxflow frame-dataflow engine: the
// processor contract, the pipeline topology container, the task that drives
// one running pipeline, and the runner that drives several tasks.
//
// Frames are handled one at a time along a chain. Delivery is a synchronous
// call through the linked processors, so per-link FIFO order is a structural
// property rather than something enforced with locks. Processors that
// suspend on external I/O hand the call off to their own goroutine and
// re-enter the chain through [Base.PushDownstream] / [Base.PushUpstream]
// when the call completes; races between a superseded response and a fresh
// one are resolved by the interruption and cancellation control frames, not
// by shared mutable state.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxflow/voxflow/pkg/frame"
)

var (
	// ErrNotAttached is returned by a push helper on a processor that has
	// not been wired into a pipeline yet.
	ErrNotAttached = errors.New("pipeline: processor not attached")

	// errAlreadyAttached reports a processor reused across pipelines.
	errAlreadyAttached = errors.New("processor already attached to a pipeline")
)

// Receiver accepts one frame travelling in the given direction. Both
// processors and the task's boundary ends implement it.
type Receiver interface {
	// Receive handles f and forwards, transforms, or absorbs it. A non-nil
	// error means the chain is structurally broken (not a processing fault —
	// processing faults become Error frames pushed upstream).
	Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error
}

// Processor is a pipeline node. Implementations embed [Base], which supplies
// link wiring and the default forwarding behaviour, and override Receive for
// the frame kinds they care about.
type Processor interface {
	Receiver

	// Name identifies the processor in logs, errors, and metrics.
	Name() string

	// attach wires the processor's links. Only [Pipeline] calls it; the
	// unexported method keeps the contract implementable solely by
	// embedding Base.
	attach(upstream, downstream Receiver) error
}

// Base provides the link wiring and default frame forwarding shared by all
// processors. Embed it by value and override Receive as needed; frames the
// override does not intercept should be passed to [Base.Forward] so
// lifecycle frames keep flowing.
type Base struct {
	name       string
	upstream   Receiver
	downstream Receiver
}

// NewBase returns a Base with the given processor name.
func NewBase(name string) Base {
	return Base{name: name}
}

// Name returns the processor name set at construction.
func (b *Base) Name() string { return b.name }

func (b *Base) attach(upstream, downstream Receiver) error {
	if b.upstream != nil || b.downstream != nil {
		return errAlreadyAttached
	}
	b.upstream = upstream
	b.downstream = downstream
	return nil
}

// Receive implements the default behaviour: every frame is forwarded
// unchanged in its direction of travel.
func (b *Base) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	return b.Forward(ctx, f, dir)
}

// Forward sends f onward in dir without inspecting it.
func (b *Base) Forward(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	if dir == frame.Upstream {
		return b.PushUpstream(ctx, f)
	}
	return b.PushDownstream(ctx, f)
}

// PushDownstream emits f on the downstream link. Safe to call from a
// processor's own goroutine after an external call completes.
func (b *Base) PushDownstream(ctx context.Context, f frame.Frame) error {
	if b.downstream == nil {
		return fmt.Errorf("%w: %s has no downstream link", ErrNotAttached, b.name)
	}
	return b.downstream.Receive(ctx, f, frame.Downstream)
}

// PushUpstream emits f on the upstream link.
func (b *Base) PushUpstream(ctx context.Context, f frame.Frame) error {
	if b.upstream == nil {
		return fmt.Errorf("%w: %s has no upstream link", ErrNotAttached, b.name)
	}
	return b.upstream.Receive(ctx, f, frame.Upstream)
}

// PushError converts a processing fault into an Error frame pushed upstream.
// When fatal is true it also emits an End frame downstream so later stages
// release their resources (the fatal-at-runtime path).
func (b *Base) PushError(ctx context.Context, err error, fatal bool) error {
	ef := frame.NewError(fmt.Sprintf("%s: %v", b.name, err), fatal)
	if perr := b.PushUpstream(ctx, ef); perr != nil {
		return perr
	}
	if fatal {
		return b.PushDownstream(ctx, frame.NewEnd())
	}
	return nil
}

// Passthrough is a processor that forwards every frame unchanged. Useful as
// a placeholder stage and in tests.
type Passthrough struct {
	Base
}

// NewPassthrough returns a Passthrough with the given name.
func NewPassthrough(name string) *Passthrough {
	return &Passthrough{Base: NewBase(name)}
}
