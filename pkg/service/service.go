// Package service defines the narrow contracts for the external services the
// leaf stages call: speech-to-text, language-model inference, and
// text-to-speech. Vendor integrations live outside this module and implement
// these interfaces; the pipeline core never sees anything wider.
//
// All methods take a [context.Context] and must respect cancellation —
// aborting an in-flight call on interruption is part of the pipeline's
// interruption protocol.
package service

import "context"

// Transcript is a finalised speech-to-text result.
type Transcript struct {
	// Text is the recognised utterance.
	Text string

	// Language is a BCP 47 language tag. May be empty.
	Language string

	// Confidence in [0, 1]. Zero when the backend does not report one.
	Confidence float64
}

// Transcriber converts a complete turn of speech audio into a transcript.
type Transcriber interface {
	// Transcribe recognises pcm (16-bit signed little-endian) at the given
	// sample rate. Blocks until the transcript is available or ctx is done.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Transcript, error)
}

// Message is one turn of conversation history.
type Message struct {
	// Role is "user" or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything a Completer needs for one response.
type CompletionRequest struct {
	// SystemPrompt is the instruction sent ahead of the conversation.
	SystemPrompt string

	// Messages is the conversation history, oldest first.
	Messages []Message
}

// Chunk is one streamed piece of a completion.
type Chunk struct {
	// Text is the token text of this chunk. May be empty on the final chunk.
	Text string

	// FinishReason is non-empty on the stream's final chunk.
	FinishReason string
}

// Completer streams a language-model response.
type Completer interface {
	// StreamCompletion starts a completion and returns a channel of chunks.
	// The channel is closed when the stream ends or ctx is cancelled.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// AudioChunk is one streamed piece of synthesised audio.
type AudioChunk struct {
	// PCM is 16-bit signed little-endian audio.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count.
	Channels int
}

// Synthesizer streams synthesised speech for one piece of text.
type Synthesizer interface {
	// Synthesize starts synthesis of text and returns a channel of audio
	// chunks. The channel is closed when synthesis completes or ctx is
	// cancelled.
	Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error)
}
