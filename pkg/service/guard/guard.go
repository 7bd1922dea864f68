package guard

import (
	"context"

	"github.com/voxflow/voxflow/pkg/service"
)

// Transcriber wraps a [service.Transcriber] with a [Breaker].
type Transcriber struct {
	next service.Transcriber
	br   *Breaker
}

// NewTranscriber guards next with a breaker built from cfg.
func NewTranscriber(next service.Transcriber, cfg Config, opts ...Option) *Transcriber {
	if cfg.Name == "" {
		cfg.Name = "stt"
	}
	return &Transcriber{next: next, br: NewBreaker(cfg, opts...)}
}

var _ service.Transcriber = (*Transcriber)(nil)

// Transcribe implements [service.Transcriber]. While the breaker is open it
// returns [ErrOpen] without touching the backend.
func (g *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (service.Transcript, error) {
	var out service.Transcript
	err := g.br.Do(func() error {
		var err error
		out, err = g.next.Transcribe(ctx, pcm, sampleRate)
		return err
	})
	return out, err
}

// Completer wraps a [service.Completer] with a [Breaker]. Only the call that
// opens the stream is guarded; errors inside an established stream end it via
// channel close and do not trip the breaker.
type Completer struct {
	next service.Completer
	br   *Breaker
}

// NewCompleter guards next with a breaker built from cfg.
func NewCompleter(next service.Completer, cfg Config, opts ...Option) *Completer {
	if cfg.Name == "" {
		cfg.Name = "llm"
	}
	return &Completer{next: next, br: NewBreaker(cfg, opts...)}
}

var _ service.Completer = (*Completer)(nil)

// StreamCompletion implements [service.Completer].
func (g *Completer) StreamCompletion(ctx context.Context, req service.CompletionRequest) (<-chan service.Chunk, error) {
	var out <-chan service.Chunk
	err := g.br.Do(func() error {
		var err error
		out, err = g.next.StreamCompletion(ctx, req)
		return err
	})
	return out, err
}

// Synthesizer wraps a [service.Synthesizer] with a [Breaker]. As with
// [Completer], only stream establishment is guarded.
type Synthesizer struct {
	next service.Synthesizer
	br   *Breaker
}

// NewSynthesizer guards next with a breaker built from cfg.
func NewSynthesizer(next service.Synthesizer, cfg Config, opts ...Option) *Synthesizer {
	if cfg.Name == "" {
		cfg.Name = "tts"
	}
	return &Synthesizer{next: next, br: NewBreaker(cfg, opts...)}
}

var _ service.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements [service.Synthesizer].
func (g *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan service.AudioChunk, error) {
	var out <-chan service.AudioChunk
	err := g.br.Do(func() error {
		var err error
		out, err = g.next.Synthesize(ctx, text)
		return err
	})
	return out, err
}
