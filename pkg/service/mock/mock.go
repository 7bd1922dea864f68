// Package mock provides scripted service implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxflow/voxflow/pkg/service"
)

// Transcriber is a test double for [service.Transcriber].
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call.
	Result service.Transcript

	// Err, when non-nil, is returned instead.
	Err error

	// Block, when non-nil, is waited on before returning; close it to
	// release in-flight calls. Cancellation of ctx also releases the call.
	Block chan struct{}

	// Calls records the PCM payload lengths passed in, in order.
	Calls []int
}

var _ service.Transcriber = (*Transcriber)(nil)

// Transcribe implements [service.Transcriber].
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, _ int) (service.Transcript, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, len(pcm))
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return service.Transcript{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return service.Transcript{}, err
	}
	if m.Err != nil {
		return service.Transcript{}, m.Err
	}
	return m.Result, nil
}

// CallCount returns how many times Transcribe has been invoked.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Completer is a test double for [service.Completer]. It streams Chunks one
// text entry at a time and honours context cancellation between chunks.
type Completer struct {
	mu sync.Mutex

	// Chunks is the scripted stream, one text per chunk; the last chunk
	// carries FinishReason "stop".
	Chunks []string

	// Err, when non-nil, is returned by StreamCompletion immediately.
	Err error

	// Block, when non-nil, is waited on before the first chunk is emitted.
	Block chan struct{}

	// Requests records every request received.
	Requests []service.CompletionRequest
}

var _ service.Completer = (*Completer)(nil)

// StreamCompletion implements [service.Completer].
func (m *Completer) StreamCompletion(ctx context.Context, req service.CompletionRequest) (<-chan service.Chunk, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	chunks := make([]string, len(m.Chunks))
	copy(chunks, m.Chunks)
	block := m.Block
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan service.Chunk)
	go func() {
		defer close(out)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return
			}
		}
		for i, text := range chunks {
			c := service.Chunk{Text: text}
			if i == len(chunks)-1 {
				c.FinishReason = "stop"
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Recorded returns a snapshot of the requests received so far.
func (m *Completer) Recorded() []service.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.CompletionRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// Synthesizer is a test double for [service.Synthesizer].
type Synthesizer struct {
	mu sync.Mutex

	// ChunksPerCall is how many audio chunks each Synthesize call streams.
	// Default 1.
	ChunksPerCall int

	// ChunkPCM is the payload of each streamed chunk. Default 320 zero bytes.
	ChunkPCM []byte

	// SampleRate of streamed chunks. Default 16000.
	SampleRate int

	// Err, when non-nil, is returned by Synthesize immediately.
	Err error

	// Block, when non-nil, is waited on before each chunk is emitted.
	Block chan struct{}

	// Texts records every text passed to Synthesize, in order.
	Texts []string
}

var _ service.Synthesizer = (*Synthesizer)(nil)

// Synthesize implements [service.Synthesizer].
func (m *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan service.AudioChunk, error) {
	m.mu.Lock()
	m.Texts = append(m.Texts, text)
	n := m.ChunksPerCall
	if n <= 0 {
		n = 1
	}
	pcm := m.ChunkPCM
	if pcm == nil {
		pcm = make([]byte, 320)
	}
	rate := m.SampleRate
	if rate == 0 {
		rate = 16000
	}
	block := m.Block
	err := m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan service.AudioChunk)
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			if block != nil {
				select {
				case <-block:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- service.AudioChunk{PCM: pcm, SampleRate: rate, Channels: 1}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SynthesizedTexts returns a snapshot of the texts synthesised so far.
func (m *Synthesizer) SynthesizedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Texts))
	copy(out, m.Texts)
	return out
}
