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

// Transcriber turns each completed-turn ResponseTrigger into a Transcript
// frame by calling the injected speech-to-text service. The call runs on its
// own goroutine so a suspended recognition never blocks the chain; a new
// trigger, an interruption, or a Cancel frame aborts the in-flight call and
// its late result is dropped.
type Transcriber struct {
	pipeline.Base

	svc       service.Transcriber
	speakerID string

	mu        sync.Mutex
	cancel    context.CancelFunc
	metricsOn bool
	wg        sync.WaitGroup
}

// TranscriberOption configures a [Transcriber].
type TranscriberOption func(*Transcriber)

// WithSpeakerID sets the speaker identifier stamped on emitted transcripts.
func WithSpeakerID(id string) TranscriberOption {
	return func(t *Transcriber) { t.speakerID = id }
}

// NewTranscriber creates the transcription stage around svc.
func NewTranscriber(svc service.Transcriber, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		Base: pipeline.NewBase("transcriber"),
		svc:  svc,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ pipeline.Processor = (*Transcriber)(nil)

// Receive implements [pipeline.Processor].
func (t *Transcriber) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	switch f := f.(type) {
	case *frame.Start:
		t.mu.Lock()
		t.metricsOn = f.EnableMetrics
		t.mu.Unlock()
		return t.Forward(ctx, f, dir)

	case *frame.ResponseTrigger:
		if dir == frame.Upstream {
			return t.Forward(ctx, f, dir)
		}
		t.transcribe(ctx, f)
		return nil

	case *frame.StartInterruption:
		t.abort()
		return t.Forward(ctx, f, dir)

	case *frame.Cancel, *frame.End:
		t.abort()
		// Await the recognition goroutine so a result racing the abort can
		// never land after the terminating frame.
		t.wg.Wait()
		return t.Forward(ctx, f, dir)

	default:
		return t.Forward(ctx, f, dir)
	}
}

// Wait blocks until all in-flight recognition goroutines have finished.
// Primarily useful in tests.
func (t *Transcriber) Wait() { t.wg.Wait() }

func (t *Transcriber) transcribe(ctx context.Context, trig *frame.ResponseTrigger) {
	// Last-writer-wins: a new turn displaces any recognition still running.
	t.abort()

	// The call's lifetime is governed by the stage's own cancel, driven by
	// the interruption/cancellation frames, not by the delivery context.
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	t.cancel = cancel
	metricsOn := t.metricsOn
	t.mu.Unlock()

	spokenAt := trig.CreatedAt()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()

		sctx, span := observe.StartSpan(cctx, "stt.transcribe",
			trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		started := time.Now()
		result, err := t.svc.Transcribe(sctx, trig.PCM, trig.SampleRate)
		if cctx.Err() != nil {
			return // superseded or interrupted: drop the late result
		}
		if err != nil {
			span.RecordError(err)
			observe.Logger(sctx).Warn("transcription failed", "err", err)
			_ = t.PushError(cctx, err, false)
			return
		}

		tf := frame.NewTranscript(result.Text, t.speakerID, spokenAt, result.Language)
		if err := t.PushDownstream(cctx, tf); err != nil {
			return
		}
		if metricsOn {
			_ = t.PushDownstream(cctx, frame.NewMetrics(t.Name(), time.Since(started)))
		}
	}()
}

func (t *Transcriber) abort() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
