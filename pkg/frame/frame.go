// Package frame defines the closed set of frame kinds flowing through a
// voxflow pipeline.
//
// A Frame is the immutable unit of data or control exchanged between
// processors. The variant set is sealed: every kind embeds the unexported
// meta type, so a type switch over the kinds in this package is exhaustive
// and new kinds cannot be declared outside it. Direction of travel is a
// property of propagation (see [Direction]), not of the frame itself — the
// same Cancel frame value travels downstream through every processor.
//
// Frames must not be mutated after creation. Payload slices are owned by the
// frame once passed to a constructor; callers that need to keep writing into
// a buffer must copy it first.
package frame

import (
	"time"

	"github.com/google/uuid"
)

// Direction indicates which way a frame is travelling along a pipeline link.
type Direction int

const (
	// Downstream frames travel from the input boundary towards the output
	// boundary (audio in → synthesised audio out).
	Downstream Direction = iota

	// Upstream frames travel back towards the input boundary. Error and
	// interruption control frames typically travel upstream.
	Upstream
)

// String returns "downstream" or "upstream".
func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Frame is the interface satisfied by every frame kind in this package.
// The unexported method seals the set.
type Frame interface {
	// ID returns the frame's unique identity, assigned at creation.
	ID() string

	// Name returns the frame kind's name, e.g. "Transcript". Useful for
	// logging and metrics attributes.
	Name() string

	// CreatedAt returns the frame's origin timestamp.
	CreatedAt() time.Time

	sealed()
}

// meta carries the identity and origin timestamp shared by all frame kinds.
type meta struct {
	id string
	at time.Time
}

func newMeta() meta {
	return meta{id: uuid.NewString(), at: time.Now()}
}

func (m meta) ID() string           { return m.id }
func (m meta) CreatedAt() time.Time { return m.at }
func (m meta) sealed()              {}

// ─── Lifecycle frames ─────────────────────────────────────────────────────────

// Start opens a session. It is the first frame delivered downstream and
// carries the session parameters every stage needs before handling data.
type Start struct {
	meta

	// SampleRate is the session's PCM sample rate in Hz.
	SampleRate int

	// Channels is the channel count of input audio (1 for mono).
	Channels int

	// AllowInterruptions enables the interruption protocol for this session.
	AllowInterruptions bool

	// EnableMetrics makes stages emit Metrics frames for each external call.
	EnableMetrics bool
}

// NewStart creates a Start frame with the given session parameters.
func NewStart(sampleRate, channels int, allowInterruptions, enableMetrics bool) *Start {
	return &Start{
		meta:               newMeta(),
		SampleRate:         sampleRate,
		Channels:           channels,
		AllowInterruptions: allowInterruptions,
		EnableMetrics:      enableMetrics,
	}
}

func (*Start) Name() string { return "Start" }

// End closes a session in order: every processor that observes End releases
// its resources and forwards it. End is also emitted downstream by a leaf
// that fails unrecoverably, so later stages still tear down.
type End struct{ meta }

// NewEnd creates an End frame.
func NewEnd() *End { return &End{meta: newMeta()} }

func (*End) Name() string { return "End" }

// Cancel aborts a session immediately. A Task delivers Cancel ahead of all
// queued frames; processors must abort in-flight work before forwarding it.
type Cancel struct{ meta }

// NewCancel creates a Cancel frame.
func NewCancel() *Cancel { return &Cancel{meta: newMeta()} }

func (*Cancel) Name() string { return "Cancel" }

// Error reports a processing fault. Recoverable faults travel upstream so
// the boundary can surface them; a fatal fault is accompanied by an End
// frame emitted downstream by the failing processor.
type Error struct {
	meta

	// Message describes the fault.
	Message string

	// Fatal reports whether the emitting processor cannot continue.
	Fatal bool
}

// NewError creates an Error frame.
func NewError(message string, fatal bool) *Error {
	return &Error{meta: newMeta(), Message: message, Fatal: fatal}
}

func (*Error) Name() string { return "Error" }

// ─── Session-control frames ───────────────────────────────────────────────────

// StartInterruption is raised by the Task (travelling upstream from the
// output boundary) when new user speech displaces an in-flight response.
// Response-producing stages discard queued output and abort external calls
// before forwarding it.
type StartInterruption struct{ meta }

// NewStartInterruption creates a StartInterruption frame.
func NewStartInterruption() *StartInterruption { return &StartInterruption{meta: newMeta()} }

func (*StartInterruption) Name() string { return "StartInterruption" }

// StopInterruption acknowledges a completed interruption sweep. The Task
// sends it downstream once StartInterruption has reached the input boundary,
// so every stage observes the protocol's end before new response work begins.
type StopInterruption struct{ meta }

// NewStopInterruption creates a StopInterruption frame.
func NewStopInterruption() *StopInterruption { return &StopInterruption{meta: newMeta()} }

func (*StopInterruption) Name() string { return "StopInterruption" }

// UserStartedSpeaking signals a voice-activity speech onset.
type UserStartedSpeaking struct{ meta }

// NewUserStartedSpeaking creates a UserStartedSpeaking frame.
func NewUserStartedSpeaking() *UserStartedSpeaking { return &UserStartedSpeaking{meta: newMeta()} }

func (*UserStartedSpeaking) Name() string { return "UserStartedSpeaking" }

// UserStoppedSpeaking signals a voice-activity speech offset.
type UserStoppedSpeaking struct{ meta }

// NewUserStoppedSpeaking creates a UserStoppedSpeaking frame.
func NewUserStoppedSpeaking() *UserStoppedSpeaking { return &UserStoppedSpeaking{meta: newMeta()} }

func (*UserStoppedSpeaking) Name() string { return "UserStoppedSpeaking" }

// SynthesisStarted marks the beginning of a synthesised response. The Task
// uses it to track whether a response is in flight for interruption gating.
type SynthesisStarted struct{ meta }

// NewSynthesisStarted creates a SynthesisStarted frame.
func NewSynthesisStarted() *SynthesisStarted { return &SynthesisStarted{meta: newMeta()} }

func (*SynthesisStarted) Name() string { return "SynthesisStarted" }

// SynthesisStopped marks the end of a synthesised response.
type SynthesisStopped struct{ meta }

// NewSynthesisStopped creates a SynthesisStopped frame.
func NewSynthesisStopped() *SynthesisStopped { return &SynthesisStopped{meta: newMeta()} }

func (*SynthesisStopped) Name() string { return "SynthesisStopped" }

// Metrics carries the processing duration of one external call made by a
// stage. Stages emit Metrics frames only when the session's Start frame has
// EnableMetrics set.
type Metrics struct {
	meta

	// Stage is the emitting processor's name.
	Stage string

	// Duration is the wall-clock time of the measured call.
	Duration time.Duration
}

// NewMetrics creates a Metrics frame for the named stage.
func NewMetrics(stage string, d time.Duration) *Metrics {
	return &Metrics{meta: newMeta(), Stage: stage, Duration: d}
}

func (*Metrics) Name() string { return "Metrics" }

// ─── Data frames ──────────────────────────────────────────────────────────────

// InputAudio is one chunk of raw PCM captured at the input boundary.
// Samples are 16-bit signed little-endian.
type InputAudio struct {
	meta

	// PCM is the raw audio payload.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count.
	Channels int
}

// NewInputAudio creates an InputAudio frame. The pcm slice is owned by the
// frame after the call.
func NewInputAudio(pcm []byte, sampleRate, channels int) *InputAudio {
	return &InputAudio{meta: newMeta(), PCM: pcm, SampleRate: sampleRate, Channels: channels}
}

func (*InputAudio) Name() string { return "InputAudio" }

// Transcript is a finalised speech-to-text result.
type Transcript struct {
	meta

	// Text is the recognised utterance.
	Text string

	// SpeakerID identifies the speaker within the session.
	SpeakerID string

	// Timestamp is when the utterance was spoken.
	Timestamp time.Time

	// Language is a BCP 47 language tag, e.g. "en-US". May be empty.
	Language string
}

// NewTranscript creates a Transcript frame.
func NewTranscript(text, speakerID string, ts time.Time, language string) *Transcript {
	return &Transcript{meta: newMeta(), Text: text, SpeakerID: speakerID, Timestamp: ts, Language: language}
}

func (*Transcript) Name() string { return "Transcript" }

// Text is one chunk of generated response text on its way to synthesis.
type Text struct {
	meta

	// Text is the chunk contents.
	Text string
}

// NewText creates a Text frame.
func NewText(text string) *Text { return &Text{meta: newMeta(), Text: text} }

func (*Text) Name() string { return "Text" }

// SynthesizedAudio is one chunk of synthesised response audio.
// Samples are 16-bit signed little-endian PCM.
type SynthesizedAudio struct {
	meta

	// PCM is the synthesised audio payload.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count.
	Channels int
}

// NewSynthesizedAudio creates a SynthesizedAudio frame. The pcm slice is
// owned by the frame after the call.
func NewSynthesizedAudio(pcm []byte, sampleRate, channels int) *SynthesizedAudio {
	return &SynthesizedAudio{meta: newMeta(), PCM: pcm, SampleRate: sampleRate, Channels: channels}
}

func (*SynthesizedAudio) Name() string { return "SynthesizedAudio" }

// ResponseTrigger asks the response-producing stages to generate a reply.
// It carries the audio of the completed user turn so a transcription stage
// can consume it without buffering raw input itself.
type ResponseTrigger struct {
	meta

	// PCM is the turn's accumulated speech audio, 16-bit signed LE.
	PCM []byte

	// SampleRate in Hz.
	SampleRate int
}

// NewResponseTrigger creates a ResponseTrigger frame. The pcm slice is owned
// by the frame after the call.
func NewResponseTrigger(pcm []byte, sampleRate int) *ResponseTrigger {
	return &ResponseTrigger{meta: newMeta(), PCM: pcm, SampleRate: sampleRate}
}

func (*ResponseTrigger) Name() string { return "ResponseTrigger" }
