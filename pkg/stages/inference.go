package stages

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/voxflow/voxflow/internal/observe"
	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
	"github.com/voxflow/voxflow/pkg/service"
)

// historyLimit bounds the conversation history kept across turns.
const historyLimit = 40

// Inference generates a streamed language-model response for every
// Transcript frame, emitting Text frames downstream as chunks arrive. It
// maintains the session's conversation history across turns. A newer
// transcript, an interruption, or a Cancel frame aborts the in-flight stream
// and drops its remaining output — the newest user turn always displaces a
// superseded response.
type Inference struct {
	pipeline.Base

	svc          service.Completer
	systemPrompt string

	mu        sync.Mutex
	cancel    context.CancelFunc
	history   []service.Message
	metricsOn bool
	wg        sync.WaitGroup
}

// InferenceOption configures an [Inference] stage.
type InferenceOption func(*Inference)

// WithSystemPrompt sets the instruction sent ahead of every completion.
func WithSystemPrompt(prompt string) InferenceOption {
	return func(i *Inference) { i.systemPrompt = prompt }
}

// NewInference creates the inference stage around svc.
func NewInference(svc service.Completer, opts ...InferenceOption) *Inference {
	i := &Inference{
		Base: pipeline.NewBase("inference"),
		svc:  svc,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

var _ pipeline.Processor = (*Inference)(nil)

// Receive implements [pipeline.Processor].
func (i *Inference) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	switch f := f.(type) {
	case *frame.Start:
		i.mu.Lock()
		i.metricsOn = f.EnableMetrics
		i.mu.Unlock()
		return i.Forward(ctx, f, dir)

	case *frame.Transcript:
		if dir == frame.Upstream {
			return i.Forward(ctx, f, dir)
		}
		i.generate(ctx, f)
		// The transcript itself stays visible to later stages and the
		// output boundary.
		return i.Forward(ctx, f, dir)

	case *frame.StartInterruption:
		i.abort()
		return i.Forward(ctx, f, dir)

	case *frame.Cancel, *frame.End:
		i.abort()
		// Await the generation goroutine so chunks racing the abort can
		// never land after the terminating frame.
		i.wg.Wait()
		return i.Forward(ctx, f, dir)

	default:
		return i.Forward(ctx, f, dir)
	}
}

// Wait blocks until all in-flight generation goroutines have finished.
// Primarily useful in tests.
func (i *Inference) Wait() { i.wg.Wait() }

func (i *Inference) generate(ctx context.Context, tf *frame.Transcript) {
	i.abort()

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.mu.Lock()
	i.cancel = cancel
	i.history = appendBounded(i.history, service.Message{Role: "user", Content: tf.Text})
	req := service.CompletionRequest{
		SystemPrompt: i.systemPrompt,
		Messages:     append([]service.Message(nil), i.history...),
	}
	metricsOn := i.metricsOn
	i.mu.Unlock()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer cancel()

		sctx, span := observe.StartSpan(cctx, "llm.complete",
			trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()

		started := time.Now()
		stream, err := i.svc.StreamCompletion(sctx, req)
		if err != nil {
			if cctx.Err() == nil {
				span.RecordError(err)
				observe.Logger(sctx).Warn("completion request failed", "err", err)
				_ = i.PushError(cctx, err, false)
			}
			return
		}

		var full strings.Builder
		for chunk := range stream {
			if cctx.Err() != nil {
				return // superseded: drop remaining output
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				if err := i.PushDownstream(cctx, frame.NewText(chunk.Text)); err != nil {
					return
				}
			}
		}
		if cctx.Err() != nil {
			return
		}

		i.mu.Lock()
		i.history = appendBounded(i.history, service.Message{Role: "assistant", Content: full.String()})
		i.mu.Unlock()

		if metricsOn {
			_ = i.PushDownstream(cctx, frame.NewMetrics(i.Name(), time.Since(started)))
		}
	}()
}

func (i *Inference) abort() {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func appendBounded(history []service.Message, msg service.Message) []service.Message {
	history = append(history, msg)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return history
}
