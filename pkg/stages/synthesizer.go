package stages

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/voxflow/voxflow/internal/observe"
	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
	"github.com/voxflow/voxflow/pkg/service"
)

// Synthesizer converts streamed Text frames into synthesised audio. Incoming
// text queues per response; a single worker goroutine drains the queue,
// bracketing its output with SynthesisStarted / SynthesisStopped so the task
// can track whether a response is in flight.
//
// On StartInterruption the queued text is discarded and the in-flight
// synthesis call aborted — no audio from the superseded response is emitted
// afterwards. Cancel and End are intercepted the same way and the worker is
// awaited before the frame is forwarded, so no synthesis output ever trails
// a terminating frame.
type Synthesizer struct {
	pipeline.Base

	svc service.Synthesizer

	mu        sync.Mutex
	queue     []string
	cancel    context.CancelFunc
	running   bool
	metricsOn bool
	wg        sync.WaitGroup
}

// NewSynthesizer creates the synthesis stage around svc.
func NewSynthesizer(svc service.Synthesizer) *Synthesizer {
	return &Synthesizer{
		Base: pipeline.NewBase("synthesizer"),
		svc:  svc,
	}
}

var _ pipeline.Processor = (*Synthesizer)(nil)

// Receive implements [pipeline.Processor].
func (s *Synthesizer) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	switch f := f.(type) {
	case *frame.Start:
		s.mu.Lock()
		s.metricsOn = f.EnableMetrics
		s.mu.Unlock()
		return s.Forward(ctx, f, dir)

	case *frame.Text:
		if dir == frame.Upstream {
			return s.Forward(ctx, f, dir)
		}
		s.enqueue(ctx, f.Text)
		return nil

	case *frame.StartInterruption:
		s.discard()
		return s.Forward(ctx, f, dir)

	case *frame.Cancel, *frame.End:
		s.discard()
		// Await the worker so its closing SynthesisStopped lands before the
		// terminating frame passes downstream — nothing may trail a Cancel.
		s.wg.Wait()
		return s.Forward(ctx, f, dir)

	default:
		return s.Forward(ctx, f, dir)
	}
}

// Wait blocks until the synthesis worker has finished. Primarily useful in
// tests.
func (s *Synthesizer) Wait() { s.wg.Wait() }

func (s *Synthesizer) enqueue(ctx context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, text)
	if s.running {
		return
	}
	s.running = true
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.work(wctx)
}

// work drains the text queue for one response.
func (s *Synthesizer) work(ctx context.Context) {
	defer s.wg.Done()

	_ = s.PushDownstream(ctx, frame.NewSynthesisStarted())
	defer func() {
		_ = s.PushDownstream(context.WithoutCancel(ctx), frame.NewSynthesisStopped())
	}()

	for {
		s.mu.Lock()
		if ctx.Err() != nil || len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		text := s.queue[0]
		s.queue = s.queue[1:]
		metricsOn := s.metricsOn
		s.mu.Unlock()

		started := time.Now()
		sctx, span := observe.StartSpan(ctx, "tts.synthesize",
			trace.WithSpanKind(trace.SpanKindClient))
		stream, err := s.svc.Synthesize(sctx, text)
		if err != nil {
			span.RecordError(err)
			span.End()
			if ctx.Err() == nil {
				observe.Logger(sctx).Warn("synthesis failed", "err", err)
				_ = s.PushError(ctx, err, false)
			}
			continue
		}
		for chunk := range stream {
			if ctx.Err() != nil {
				break
			}
			af := frame.NewSynthesizedAudio(chunk.PCM, chunk.SampleRate, chunk.Channels)
			if err := s.PushDownstream(ctx, af); err != nil {
				span.End()
				return
			}
		}
		span.End()
		if metricsOn && ctx.Err() == nil {
			_ = s.PushDownstream(ctx, frame.NewMetrics(s.Name(), time.Since(started)))
		}
	}
}

// discard drops queued text and aborts the in-flight synthesis call.
func (s *Synthesizer) discard() {
	s.mu.Lock()
	s.queue = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
