// Package turn implements end-of-turn detection for a single audio session:
// a state machine that converts streamed audio chunks plus per-chunk
// voice-activity flags into discrete turn-completion decisions.
//
// Two completion paths exist. The cheap path lives inside
// [Analyzer.AppendAudio]: once accumulated trailing silence reaches the stop
// threshold, the turn is Complete with no inference involved. The costlier
// on-demand path, [Analyzer.AnalyzeEndOfTurn], hands the buffered speech
// segment to an injected endpoint [Classifier] and is meant for pauses
// shorter than the hard threshold. The timer path always takes priority: it
// fires synchronously per chunk, while the classifier path only runs when
// explicitly invoked.
//
// An Analyzer is bound to exactly one audio session and is not safe for
// concurrent use; call its methods sequentially from the session's
// audio-ingest path.
package turn

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Decision is the analyzer's verdict for the current turn.
type Decision int

const (
	// Incomplete means the speaker has not finished the turn (or no turn is
	// in progress).
	Incomplete Decision = iota

	// Complete means the speaker has finished the turn.
	Complete
)

// String returns "incomplete" or "complete".
func (d Decision) String() string {
	if d == Complete {
		return "complete"
	}
	return "incomplete"
}

// Result is an endpoint classifier's output for one speech segment.
type Result struct {
	// Prediction is 1 when the turn is complete, 0 otherwise.
	Prediction int

	// Probability is the classifier's confidence in a complete turn,
	// in [0, 1].
	Probability float64
}

// Classifier is the injected endpoint model: float-normalised audio samples
// in, a binary decision with confidence out. Swapping implementations must
// not change analyzer behaviour beyond the decision value itself.
type Classifier interface {
	// Predict classifies samples (float32 in [-1, 1] at the analyzer's
	// sample rate). It is never invoked with an empty slice.
	Predict(ctx context.Context, samples []float32) (Result, error)
}

// Params is the analyzer's configuration surface.
type Params struct {
	// StopSecs is the trailing-silence threshold, in seconds, after which a
	// turn is complete without consulting the classifier.
	StopSecs float64

	// PreSpeechMS is how much audio before the detected speech start, in
	// milliseconds, is included in the classified segment.
	PreSpeechMS float64

	// MaxDurationSecs caps the classified segment length, in seconds. A
	// longer segment keeps only its most recent portion.
	MaxDurationSecs float64
}

// DefaultParams returns the default timing parameters: a 3 s stop threshold,
// no pre-speech audio, and an 8 s maximum segment.
func DefaultParams() Params {
	return Params{StopSecs: 3.0, PreSpeechMS: 0, MaxDurationSecs: 8.0}
}

// RetentionPolicy selects what happens to buffered audio after the
// classifier reports an incomplete turn.
type RetentionPolicy int

const (
	// RetainLastSegment discards the buffer and waits for new speech; the
	// triggered flag survives so the session is still mid-turn.
	RetainLastSegment RetentionPolicy = iota

	// RetainAcrossCalls keeps the buffer so a later call can reconsider the
	// same turn with more appended audio.
	RetainAcrossCalls
)

// chunk is one buffered audio chunk with its arrival timestamp.
type chunk struct {
	at      time.Time
	samples []float32
}

// Analyzer is the per-session end-of-turn state machine.
type Analyzer struct {
	sampleRate int
	params     Params
	stopMS     float64
	classifier Classifier
	retention  RetentionPolicy
	now        func() time.Time

	buffer          []chunk
	speechTriggered bool
	silenceMS       float64
	speechStart     time.Time
	speechStartSet  bool
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithParams overrides the default timing parameters.
func WithParams(p Params) Option {
	return func(a *Analyzer) { a.params = p }
}

// WithRetentionPolicy selects the post-incomplete buffer policy. The default
// is [RetainLastSegment].
func WithRetentionPolicy(p RetentionPolicy) Option {
	return func(a *Analyzer) { a.retention = p }
}

// WithClock injects the time source. Tests use this to drive the buffer
// window deterministically.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer for one audio session. classifier may be
// nil when only the silence-timer completion path is used;
// [Analyzer.AnalyzeEndOfTurn] then always reports Incomplete for non-empty
// segments it cannot classify.
func NewAnalyzer(sampleRate int, classifier Classifier, opts ...Option) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("turn: invalid sample rate %d", sampleRate)
	}
	a := &Analyzer{
		sampleRate: sampleRate,
		params:     DefaultParams(),
		classifier: classifier,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.params.StopSecs <= 0 || a.params.MaxDurationSecs <= 0 || a.params.PreSpeechMS < 0 {
		return nil, fmt.Errorf("turn: invalid params %+v", a.params)
	}
	a.stopMS = a.params.StopSecs * 1000
	return a, nil
}

// SpeechTriggered reports whether a turn is currently in progress.
func (a *Analyzer) SpeechTriggered() bool { return a.speechTriggered }

// AppendAudio ingests one fixed-size chunk of 16-bit signed little-endian
// PCM together with its voice-activity flag and returns the current turn
// decision. Only a transition into Complete is actionable.
//
// A speech chunk resets the trailing-silence accumulator and records the
// speech start. A silence chunk during a turn accumulates its duration —
// derived from the sample count, not from summed wall-clock deltas — and
// completes the turn once the stop threshold is reached, clearing all state
// synchronously. A silence chunk outside a turn trims buffered audio older
// than the retention window, since nothing before it can ever be classified.
func (a *Analyzer) AppendAudio(pcm []byte, isSpeech bool) Decision {
	samples := DecodePCM16(pcm)
	now := a.now()
	a.buffer = append(a.buffer, chunk{at: now, samples: samples})

	if isSpeech {
		a.silenceMS = 0
		a.speechTriggered = true
		if !a.speechStartSet {
			a.speechStart = now
			a.speechStartSet = true
		}
		return Incomplete
	}

	if a.speechTriggered {
		a.silenceMS += float64(len(samples)) / float64(a.sampleRate) * 1000
		if a.silenceMS >= a.stopMS {
			a.clear(Complete)
			return Complete
		}
		return Incomplete
	}

	// Not triggered: bound buffer growth while waiting for speech.
	windowSecs := a.params.PreSpeechMS/1000 + a.params.StopSecs + a.params.MaxDurationSecs
	cutoff := now.Add(-time.Duration(windowSecs * float64(time.Second)))
	trimmed := 0
	for trimmed < len(a.buffer) && a.buffer[trimmed].at.Before(cutoff) {
		trimmed++
	}
	if trimmed > 0 {
		a.buffer = append(a.buffer[:0:0], a.buffer[trimmed:]...)
	}
	return Incomplete
}

// AnalyzeEndOfTurn runs the on-demand classifier path over the buffered
// speech segment. An empty or degenerate segment is not an error: the
// analyzer reports Incomplete and skips the classifier.
//
// On Complete the state is cleared exactly as in the silence-timer path. On
// Incomplete the buffer handling follows the configured [RetentionPolicy].
// A classifier error leaves all state untouched so the call can be retried.
func (a *Analyzer) AnalyzeEndOfTurn(ctx context.Context) (Decision, error) {
	if len(a.buffer) == 0 {
		return Incomplete, nil
	}
	decision, err := a.classifySegment(ctx)
	if err != nil {
		return Incomplete, err
	}
	if decision == Complete || a.retention == RetainLastSegment {
		a.clear(decision)
	}
	return decision, nil
}

// clear resets the per-turn state. After a Complete decision the session is
// fully idle; after Incomplete the triggered flag survives because the turn
// is still open.
func (a *Analyzer) clear(d Decision) {
	a.speechTriggered = d == Incomplete
	a.buffer = nil
	a.speechStartSet = false
	a.speechStart = time.Time{}
	a.silenceMS = 0
}

func (a *Analyzer) classifySegment(ctx context.Context) (Decision, error) {
	if len(a.buffer) == 0 || !a.speechStartSet || a.classifier == nil {
		return Incomplete, nil
	}

	// Segment starts pre_speech_ms before the first speech chunk.
	segStart := a.speechStart.Add(-time.Duration(a.params.PreSpeechMS * float64(time.Millisecond)))
	startIndex := 0
	for i, c := range a.buffer {
		if !c.at.Before(segStart) {
			startIndex = i
			break
		}
	}

	total := 0
	for _, c := range a.buffer[startIndex:] {
		total += len(c.samples)
	}
	if total == 0 {
		return Incomplete, nil
	}
	segment := make([]float32, 0, total)
	for _, c := range a.buffer[startIndex:] {
		segment = append(segment, c.samples...)
	}

	// Cap the segment, discarding the oldest samples first.
	maxSamples := int(a.params.MaxDurationSecs * float64(a.sampleRate))
	if len(segment) > maxSamples {
		segment = segment[len(segment)-maxSamples:]
	}

	res, err := a.classifier.Predict(ctx, segment)
	if err != nil {
		return Incomplete, fmt.Errorf("turn: classify segment: %w", err)
	}
	if res.Prediction == 1 {
		return Complete, nil
	}
	return Incomplete, nil
}

// DecodePCM16 converts 16-bit signed little-endian PCM bytes into float32
// samples normalised to [-1, 1]. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// EncodePCM16 converts float32 samples in [-1, 1] back to 16-bit signed
// little-endian PCM, clamping out-of-range values.
func EncodePCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
	}
	return pcm
}
