package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxflow/voxflow/pkg/event"
	"github.com/voxflow/voxflow/pkg/frame"
)

var (
	// ErrCancelled is returned by [Task.Run] when the task was terminated by
	// [Task.Cancel] or by context cancellation.
	ErrCancelled = errors.New("pipeline: task cancelled")

	// ErrAlreadyStarted is returned by [Task.Run] on a second call.
	ErrAlreadyStarted = errors.New("pipeline: task already started")

	// ErrFinished is returned by [Task.QueueFrames] once the task has
	// reached a terminal state.
	ErrFinished = errors.New("pipeline: task finished")
)

// defaultIdleTimeout is how long a task waits without any boundary frame
// activity before ending the session on its own.
const defaultIdleTimeout = 5 * time.Minute

// queueDepth bounds the number of pending frame batches.
const queueDepth = 64

// MetricsRecorder receives the measurements a running task produces. The
// internal observe package provides an OpenTelemetry-backed implementation.
type MetricsRecorder interface {
	// RecordFrame counts one frame delivered at the input boundary.
	RecordFrame(ctx context.Context, name string)

	// RecordStage records the duration of one external call, reported by a
	// stage through a Metrics frame.
	RecordStage(ctx context.Context, stage string, d time.Duration)

	// RecordInterruption counts one interruption sweep.
	RecordInterruption(ctx context.Context)
}

// Task owns one running pipeline instance: it injects frames at the input
// boundary, enforces the interruption policy, delivers cancellation ahead of
// queued work, and self-terminates after an idle timeout.
//
// A task runs once. QueueFrames and Cancel are safe for concurrent use;
// Run must be called from a single goroutine.
type Task struct {
	pipe *Pipeline

	id                 string
	sampleRate         int
	channels           int
	allowInterruptions bool
	idleTimeout        time.Duration
	bus                *event.Bus
	metrics            MetricsRecorder
	boundaryFn         func(context.Context, frame.Frame) error
	errorFn            func(*frame.Error)

	queue    chan []frame.Frame
	control  chan frame.Frame // boundary-raised frames, delivered before queued batches
	activity chan struct{}    // sink-observed frames reset the idle timer
	cancelCh chan struct{}
	terminal chan struct{}
	done     chan struct{}

	cancelOnce sync.Once
	termOnce   sync.Once

	mu             sync.Mutex
	started        bool
	responseActive bool
}

// TaskOption configures a [Task] during construction.
type TaskOption func(*Task)

// WithAudioFormat sets the session sample rate and channel count carried by
// the Start frame. Defaults: 16000 Hz mono.
func WithAudioFormat(sampleRate, channels int) TaskOption {
	return func(t *Task) {
		t.sampleRate = sampleRate
		t.channels = channels
	}
}

// WithInterruptions enables or disables the interruption protocol for this
// session. Disabled by default.
func WithInterruptions(allow bool) TaskOption {
	return func(t *Task) { t.allowInterruptions = allow }
}

// WithIdleTimeout sets how long the task waits with no boundary frame before
// ending the session. Default is 5 minutes.
func WithIdleTimeout(d time.Duration) TaskOption {
	return func(t *Task) { t.idleTimeout = d }
}

// WithEventBus makes the task publish speech-started / speech-ended events
// for its session on bus.
func WithEventBus(bus *event.Bus) TaskOption {
	return func(t *Task) { t.bus = bus }
}

// WithMetrics enables metrics for the session: the Start frame asks stages
// to emit Metrics frames, and rec receives every measurement.
func WithMetrics(rec MetricsRecorder) TaskOption {
	return func(t *Task) { t.metrics = rec }
}

// WithBoundaryHandler registers fn as the consumer of frames arriving at the
// output boundary (synthesised audio, transcripts, lifecycle frames). A
// transport typically forwards them to the client here.
func WithBoundaryHandler(fn func(context.Context, frame.Frame) error) TaskOption {
	return func(t *Task) { t.boundaryFn = fn }
}

// WithErrorHandler registers fn as the consumer of Error frames surfacing at
// the input boundary. Reporting is the collaborator's responsibility; the
// task only logs them.
func WithErrorHandler(fn func(*frame.Error)) TaskOption {
	return func(t *Task) { t.errorFn = fn }
}

// NewTask wires pipe between the task's boundary ends and returns the task.
// Wiring fails if a processor already belongs to another task's pipeline.
func NewTask(pipe *Pipeline, opts ...TaskOption) (*Task, error) {
	t := &Task{
		pipe:        pipe,
		id:          uuid.NewString(),
		sampleRate:  16000,
		channels:    1,
		idleTimeout: defaultIdleTimeout,
		queue:       make(chan []frame.Frame, queueDepth),
		control:     make(chan frame.Frame, queueDepth),
		activity:    make(chan struct{}, 1),
		cancelCh:    make(chan struct{}),
		terminal:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	if err := pipe.wire(&taskSource{t}, &taskSink{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// ID returns the task's session identifier.
func (t *Task) ID() string { return t.id }

// QueueFrames enqueues an ordered batch of frames for delivery at the input
// boundary. The batch is delivered in order and never interleaved with
// frames from another batch. Returns ErrFinished once the task is done and
// ErrCancelled if the task has been cancelled.
func (t *Task) QueueFrames(frames ...frame.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	batch := make([]frame.Frame, len(frames))
	copy(batch, frames)

	// Terminal states take priority over a queue send: with buffer space
	// available a single select would pick at random and could silently
	// swallow the batch.
	select {
	case <-t.cancelCh:
		return ErrCancelled
	case <-t.done:
		return ErrFinished
	default:
	}

	select {
	case <-t.cancelCh:
		return ErrCancelled
	case <-t.done:
		return ErrFinished
	case t.queue <- batch:
		return nil
	}
}

// Cancel terminates the task: a Cancel frame is delivered ahead of every
// still-queued batch, and [Task.Run] does not return before the frame has
// passed through all processors. Cancel is monotonic and safe to call from
// any goroutine, before or during Run.
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Done is closed when [Task.Run] has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Run drives the task to a terminal state: it opens the session with a Start
// frame, then delivers queued frames at the input boundary until an End or
// Cancel frame has propagated through every processor, the context is
// cancelled, or the idle timeout elapses with no boundary activity.
//
// Returns ErrCancelled on the cancellation paths and nil on End or idle
// timeout (the idle path delivers an End frame first so every stage releases
// its resources).
func (t *Task) Run(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()
	defer close(t.done)

	start := frame.NewStart(t.sampleRate, t.channels, t.allowInterruptions, t.metrics != nil)
	if err := t.deliver(ctx, start); err != nil {
		return err
	}

	idle := time.NewTimer(t.idleTimeout)
	defer idle.Stop()

	for {
		if t.finished() {
			return nil
		}
		// Cancellation pre-empts everything still queued.
		select {
		case <-t.cancelCh:
			return t.finishCancelled(ctx)
		default:
		}

		// Boundary-raised control frames go ahead of queued batches.
		select {
		case f := <-t.control:
			if err := t.deliver(ctx, f); err != nil {
				return err
			}
			t.resetIdle(idle)
			continue
		default:
		}

		select {
		case <-t.cancelCh:
			return t.finishCancelled(ctx)

		case <-ctx.Done():
			t.Cancel()
			return t.finishCancelled(ctx)

		case <-t.terminal:
			return nil

		case f := <-t.control:
			if err := t.deliver(ctx, f); err != nil {
				return err
			}
			t.resetIdle(idle)

		case <-t.activity:
			t.resetIdle(idle)

		case batch := <-t.queue:
			for _, f := range batch {
				select {
				case <-t.cancelCh:
					return t.finishCancelled(ctx)
				default:
				}
				if err := t.deliver(ctx, f); err != nil {
					return err
				}
				t.resetIdle(idle)
			}

		case <-idle.C:
			slog.Warn("task idle timeout, ending session",
				"task_id", t.id,
				"idle_timeout", t.idleTimeout,
			)
			if err := t.deliver(ctx, frame.NewEnd()); err != nil {
				return err
			}
			return nil
		}
	}
}

// deliver injects f at the input boundary; the call returns once the frame
// has traversed every processor that did not absorb it.
func (t *Task) deliver(ctx context.Context, f frame.Frame) error {
	if t.metrics != nil {
		t.metrics.RecordFrame(ctx, f.Name())
	}
	if err := t.pipe.first().Receive(ctx, f, frame.Downstream); err != nil {
		return fmt.Errorf("pipeline: deliver %s: %w", f.Name(), err)
	}
	return nil
}

// finishCancelled delivers the Cancel frame through the whole chain before
// returning, so teardown is deterministic regardless of what was in flight.
func (t *Task) finishCancelled(ctx context.Context) error {
	// The delivery must proceed even when the caller's context is already
	// done: processors release sockets and timers on Cancel.
	dctx := context.WithoutCancel(ctx)
	if err := t.deliver(dctx, frame.NewCancel()); err != nil {
		slog.Error("cancel delivery failed", "task_id", t.id, "err", err)
	}
	return ErrCancelled
}

func (t *Task) finished() bool {
	select {
	case <-t.terminal:
		return true
	default:
		return false
	}
}

func (t *Task) markTerminal() {
	t.termOnce.Do(func() { close(t.terminal) })
}

func (t *Task) noteActivity() {
	select {
	case t.activity <- struct{}{}:
	default:
	}
}

func (t *Task) resetIdle(idle *time.Timer) {
	if !idle.Stop() {
		select {
		case <-idle.C:
		default:
		}
	}
	idle.Reset(t.idleTimeout)
}

func (t *Task) publish(kind event.Kind) {
	if t.bus != nil {
		t.bus.Publish(event.Event{Kind: kind, SessionID: t.id})
	}
}

// interrupt raises the interruption sweep: StartInterruption travels
// upstream from the output boundary through the response-producing stages.
// The acknowledging StopInterruption is sent downstream by the source once
// the sweep reaches the input boundary.
func (t *Task) interrupt(ctx context.Context) {
	t.mu.Lock()
	t.responseActive = false
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordInterruption(ctx)
	}
	if err := t.pipe.last().Receive(ctx, frame.NewStartInterruption(), frame.Upstream); err != nil {
		slog.Error("interruption sweep failed", "task_id", t.id, "err", err)
	}
}

// ─── Boundary ends ────────────────────────────────────────────────────────────

// taskSource is the pipeline's input boundary: it receives frames pushed
// upstream out of the first processor.
type taskSource struct{ t *Task }

func (s *taskSource) Receive(ctx context.Context, f frame.Frame, _ frame.Direction) error {
	t := s.t
	switch f := f.(type) {
	case *frame.Error:
		slog.Warn("error frame reached input boundary",
			"task_id", t.id,
			"message", f.Message,
			"fatal", f.Fatal,
		)
		if t.errorFn != nil {
			t.errorFn(f)
		}

	case *frame.StartInterruption:
		// The sweep reached the input boundary: every response-producing
		// stage has aborted. Acknowledge downstream, queued ahead of any
		// pending batches but outside the current call stack.
		select {
		case t.control <- frame.NewStopInterruption():
		default:
		}
	}
	return nil
}

// taskSink is the pipeline's output boundary: it receives frames leaving the
// last processor downstream and applies the task's session policies.
type taskSink struct{ t *Task }

func (s *taskSink) Receive(ctx context.Context, f frame.Frame, _ frame.Direction) error {
	t := s.t
	t.noteActivity()

	switch f := f.(type) {
	case *frame.End, *frame.Cancel:
		t.markTerminal()

	case *frame.SynthesisStarted:
		t.mu.Lock()
		t.responseActive = true
		t.mu.Unlock()

	case *frame.SynthesisStopped:
		t.mu.Lock()
		t.responseActive = false
		t.mu.Unlock()

	case *frame.UserStartedSpeaking:
		t.publish(event.SpeechStarted)
		t.mu.Lock()
		active := t.responseActive
		t.mu.Unlock()
		if t.allowInterruptions && active {
			t.interrupt(ctx)
		}

	case *frame.UserStoppedSpeaking:
		t.publish(event.SpeechEnded)

	case *frame.Metrics:
		if t.metrics != nil {
			t.metrics.RecordStage(ctx, f.Stage, f.Duration)
		}
		return nil // measurements are not a boundary payload
	}

	if t.boundaryFn != nil {
		if err := t.boundaryFn(ctx, f); err != nil {
			slog.Warn("boundary handler error", "task_id", t.id, "frame", f.Name(), "err", err)
		}
	}
	return nil
}
