package stages_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
)

// collector gathers the frames arriving at the output boundary.
type collector struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (c *collector) handle(_ context.Context, f frame.Frame) error {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
	return nil
}

// snapshot returns the frames collected so far.
func (c *collector) snapshot() []frame.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame(nil), c.frames...)
}

// indexOf returns the position of the first collected frame with the given
// name, or -1.
func (c *collector) indexOf(name string) int {
	for i, f := range c.snapshot() {
		if f.Name() == name {
			return i
		}
	}
	return -1
}

// byName returns the collected frames of the given name, in order.
func (c *collector) byName(name string) []frame.Frame {
	var out []frame.Frame
	for _, f := range c.snapshot() {
		if f.Name() == name {
			out = append(out, f)
		}
	}
	return out
}

// harness owns one running task around the stages under test.
type harness struct {
	task *pipeline.Task
	out  *collector
}

// errRecognizer is a reusable fault for service doubles.
var errRecognizer = errors.New("recognizer offline")

// newHarness builds a task around procs, starts it, and returns the harness
// plus a stop function that ends the session and waits for Run to return.
func newHarness(t *testing.T, procs ...pipeline.Processor) (*harness, func()) {
	t.Helper()
	return newHarnessWith(t, &collector{}, nil, procs...)
}

// newHarnessWith is newHarness with an explicit boundary collector and an
// optional channel receiving Error frames that surface at the input boundary.
func newHarnessWith(t *testing.T, out *collector, errs chan *frame.Error, procs ...pipeline.Processor) (*harness, func()) {
	t.Helper()

	pipe, err := pipeline.New(procs...)
	if err != nil {
		t.Fatalf("pipeline construction failed: %v", err)
	}
	opts := []pipeline.TaskOption{
		pipeline.WithInterruptions(true),
		pipeline.WithBoundaryHandler(out.handle),
	}
	if errs != nil {
		opts = append(opts, pipeline.WithErrorHandler(func(f *frame.Error) {
			select {
			case errs <- f:
			default:
			}
		}))
	}
	task, err := pipeline.NewTask(pipe, opts...)
	if err != nil {
		t.Fatalf("task construction failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()

	stop := func() {
		t.Helper()
		_ = task.QueueFrames(frame.NewEnd())
		select {
		case err := <-errCh:
			if err != nil {
				t.Fatalf("run returned %v, want nil", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("task did not terminate in time")
		}
	}
	return &harness{task: task, out: out}, stop
}

// newCancelHarness is newHarness for tests that cancel the task: the
// returned wait function asserts Run finishes with ErrCancelled.
func newCancelHarness(t *testing.T, procs ...pipeline.Processor) (*harness, func()) {
	t.Helper()

	out := &collector{}
	pipe, err := pipeline.New(procs...)
	if err != nil {
		t.Fatalf("pipeline construction failed: %v", err)
	}
	task, err := pipeline.NewTask(pipe,
		pipeline.WithInterruptions(true),
		pipeline.WithBoundaryHandler(out.handle),
	)
	if err != nil {
		t.Fatalf("task construction failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(context.Background()) }()

	wait := func() {
		t.Helper()
		select {
		case err := <-errCh:
			if !errors.Is(err, pipeline.ErrCancelled) {
				t.Fatalf("run returned %v, want ErrCancelled", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("task did not terminate in time")
		}
	}
	return &harness{task: task, out: out}, wait
}

// queue enqueues frames on the harness task, failing the test on error.
func (h *harness) queue(t *testing.T, frames ...frame.Frame) {
	t.Helper()
	if err := h.task.QueueFrames(frames...); err != nil {
		t.Fatalf("queue failed: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes. Used to await
// frames emitted from stage goroutines.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
