package turn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxflow/voxflow/pkg/turn"
	"github.com/voxflow/voxflow/pkg/turn/mock"
)

const sampleRate = 16000

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// chunkMS returns silent PCM covering ms milliseconds at sampleRate.
func chunkMS(ms int) []byte {
	return make([]byte, sampleRate*ms/1000*2)
}

// speechChunkMS returns non-silent PCM covering ms milliseconds.
func speechChunkMS(ms int) []byte {
	n := sampleRate * ms / 1000
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.5
	}
	return turn.EncodePCM16(samples)
}

func newAnalyzer(t *testing.T, classifier turn.Classifier, clock *fakeClock, opts ...turn.Option) *turn.Analyzer {
	t.Helper()
	opts = append(opts, turn.WithClock(clock.now))
	a, err := turn.NewAnalyzer(sampleRate, classifier, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

// feed appends one chunk and advances the clock by its duration.
func feed(a *turn.Analyzer, clock *fakeClock, pcm []byte, isSpeech bool, ms int) turn.Decision {
	d := a.AppendAudio(pcm, isSpeech)
	clock.advance(time.Duration(ms) * time.Millisecond)
	return d
}

// ── silence-timer path ───────────────────────────────────────────────────────

func TestSilenceTimerCompletesTurn(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	a := newAnalyzer(t, nil, clock)

	// One speech chunk opens the turn.
	if d := feed(a, clock, speechChunkMS(100), true, 100); d != turn.Incomplete {
		t.Fatalf("speech chunk decision = %v, want incomplete", d)
	}

	// With a 3 s stop threshold and 100 ms chunks, silence accumulates to
	// 3000 ms exactly on the 30th silent chunk.
	for i := 1; i < 30; i++ {
		if d := feed(a, clock, chunkMS(100), false, 100); d != turn.Incomplete {
			t.Fatalf("silent chunk %d decision = %v, want incomplete", i, d)
		}
	}
	if d := feed(a, clock, chunkMS(100), false, 100); d != turn.Complete {
		t.Fatalf("30th silent chunk decision = %v, want complete", d)
	}
	if a.SpeechTriggered() {
		t.Fatal("turn still triggered after completion")
	}
}

func TestSpeechResetsSilenceAccumulator(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	a := newAnalyzer(t, nil, clock)

	feed(a, clock, speechChunkMS(100), true, 100)
	// 2.9 s of silence, short of the threshold.
	for i := 0; i < 29; i++ {
		feed(a, clock, chunkMS(100), false, 100)
	}
	// Speech again: the accumulator starts over.
	feed(a, clock, speechChunkMS(100), true, 100)
	for i := 0; i < 29; i++ {
		if d := feed(a, clock, chunkMS(100), false, 100); d != turn.Incomplete {
			t.Fatalf("silent chunk %d after reset decision = %v, want incomplete", i, d)
		}
	}
	if d := feed(a, clock, chunkMS(100), false, 100); d != turn.Complete {
		t.Fatalf("final silent chunk decision = %v, want complete", d)
	}
}

func TestSilenceDurationDerivedFromSampleCount(t *testing.T) {
	t.Parallel()

	// The clock here never advances during silence: completion must still
	// arrive because silence is measured by sample count, not wall time.
	clock := newFakeClock()
	a := newAnalyzer(t, nil, clock)

	a.AppendAudio(speechChunkMS(100), true)
	for i := 0; i < 29; i++ {
		if d := a.AppendAudio(chunkMS(100), false); d != turn.Incomplete {
			t.Fatalf("silent chunk %d decision = %v, want incomplete", i, d)
		}
	}
	if d := a.AppendAudio(chunkMS(100), false); d != turn.Complete {
		t.Fatalf("30th silent chunk decision = %v, want complete", d)
	}
}

// ── pre-trigger buffer trimming ──────────────────────────────────────────────

func TestPreTriggerBufferTrimmed(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	classifier := &mock.Classifier{Result: turn.Result{Prediction: 1, Probability: 0.9}}
	a := newAnalyzer(t, classifier, clock, turn.WithParams(turn.Params{
		StopSecs:        3,
		PreSpeechMS:     0,
		MaxDurationSecs: 8,
	}))

	// 30 s of silence with no turn in progress. The retention window is
	// pre_speech + stop + max_duration = 11 s; anything older must go.
	for i := 0; i < 300; i++ {
		feed(a, clock, chunkMS(100), false, 100)
	}

	// Open a turn and classify: the segment must contain at most the
	// retained window, proving old audio was trimmed.
	feed(a, clock, speechChunkMS(100), true, 100)
	if _, err := a.AnalyzeEndOfTurn(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if classifier.CallCount() != 1 {
		t.Fatalf("classifier calls = %d, want 1", classifier.CallCount())
	}
	maxWindow := 11 * sampleRate
	if got := len(classifier.Calls[0]); got > maxWindow {
		t.Fatalf("segment = %d samples, want at most %d", got, maxWindow)
	}
}

// ── classifier path ──────────────────────────────────────────────────────────

func TestAnalyzeEndOfTurnEmptyBuffer(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	classifier := &mock.Classifier{}
	a := newAnalyzer(t, classifier, clock)

	d, err := a.AnalyzeEndOfTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != turn.Incomplete {
		t.Fatalf("decision = %v, want incomplete", d)
	}
	if classifier.CallCount() != 0 {
		t.Fatal("classifier consulted for an empty segment")
	}
	if a.SpeechTriggered() {
		t.Fatal("empty analysis must not open a turn")
	}
}

func TestClassifierCompleteClearsState(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	classifier := &mock.Classifier{Result: turn.Result{Prediction: 1, Probability: 0.95}}
	a := newAnalyzer(t, classifier, clock)

	feed(a, clock, speechChunkMS(100), true, 100)
	feed(a, clock, chunkMS(100), false, 100)

	d, err := a.AnalyzeEndOfTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != turn.Complete {
		t.Fatalf("decision = %v, want complete", d)
	}
	if a.SpeechTriggered() {
		t.Fatal("turn still triggered after complete decision")
	}

	// The next analysis starts from scratch.
	d, err = a.AnalyzeEndOfTurn(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != turn.Incomplete || classifier.CallCount() != 1 {
		t.Fatalf("post-complete analysis = %v with %d calls, want incomplete and 1 call", d, classifier.CallCount())
	}
}

func TestRetentionPolicies(t *testing.T) {
	t.Parallel()

	t.Run("retain last segment discards the buffer but keeps the turn open", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		classifier := &mock.Classifier{Result: turn.Result{Prediction: 0, Probability: 0.2}}
		a := newAnalyzer(t, classifier, clock, turn.WithRetentionPolicy(turn.RetainLastSegment))

		feed(a, clock, speechChunkMS(100), true, 100)
		if _, err := a.AnalyzeEndOfTurn(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !a.SpeechTriggered() {
			t.Fatal("incomplete decision must leave the turn open")
		}

		// Buffer was discarded: the next call has nothing to classify.
		if _, err := a.AnalyzeEndOfTurn(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if classifier.CallCount() != 1 {
			t.Fatalf("classifier calls = %d, want 1", classifier.CallCount())
		}
	})

	t.Run("retain across calls reconsiders the same turn", func(t *testing.T) {
		t.Parallel()
		clock := newFakeClock()
		classifier := &mock.Classifier{Result: turn.Result{Prediction: 0, Probability: 0.2}}
		a := newAnalyzer(t, classifier, clock, turn.WithRetentionPolicy(turn.RetainAcrossCalls))

		feed(a, clock, speechChunkMS(100), true, 100)
		if _, err := a.AnalyzeEndOfTurn(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		feed(a, clock, speechChunkMS(100), true, 100)
		if _, err := a.AnalyzeEndOfTurn(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if classifier.CallCount() != 2 {
			t.Fatalf("classifier calls = %d, want 2", classifier.CallCount())
		}
		// Second segment grew: the first call's audio was kept.
		if len(classifier.Calls[1]) <= len(classifier.Calls[0]) {
			t.Fatalf("second segment %d samples, want more than first %d",
				len(classifier.Calls[1]), len(classifier.Calls[0]))
		}
	})
}

func TestClassifierErrorLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	classifier := &mock.Classifier{Err: errors.New("model unavailable")}
	a := newAnalyzer(t, classifier, clock)

	feed(a, clock, speechChunkMS(100), true, 100)

	d, err := a.AnalyzeEndOfTurn(context.Background())
	if err == nil {
		t.Fatal("want classifier error, got nil")
	}
	if d != turn.Incomplete {
		t.Fatalf("decision = %v, want incomplete", d)
	}
	if !a.SpeechTriggered() {
		t.Fatal("failed analysis must not close the turn")
	}

	// A retry with a recovered classifier sees the same segment.
	classifier.Err = nil
	classifier.Result = turn.Result{Prediction: 1, Probability: 0.9}

	d, err = a.AnalyzeEndOfTurn(context.Background())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if d != turn.Complete {
		t.Fatalf("retry decision = %v, want complete", d)
	}
}

func TestSegmentCappedToMaxDuration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	classifier := &mock.Classifier{Result: turn.Result{Prediction: 0}}
	a := newAnalyzer(t, classifier, clock, turn.WithParams(turn.Params{
		StopSecs:        3,
		PreSpeechMS:     0,
		MaxDurationSecs: 8,
	}))

	// 10 s of continuous speech exceeds the 8 s cap.
	for i := 0; i < 100; i++ {
		feed(a, clock, speechChunkMS(100), true, 100)
	}
	if _, err := a.AnalyzeEndOfTurn(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := 8 * sampleRate
	if got := len(classifier.Calls[0]); got != want {
		t.Fatalf("segment = %d samples, want %d (newest 8 s)", got, want)
	}
}

// ── PCM helpers ──────────────────────────────────────────────────────────────

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 1.0, -1.0}
	out := turn.DecodePCM16(turn.EncodePCM16(in))
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		diff := out[i] - in[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > 1.0/32768.0+1e-6 {
			t.Fatalf("sample %d = %f, want %f within one quantisation step", i, out[i], in[i])
		}
	}
}

func TestDecodeIgnoresTrailingOddByte(t *testing.T) {
	t.Parallel()

	if got := len(turn.DecodePCM16([]byte{0, 0, 7})); got != 1 {
		t.Fatalf("samples = %d, want 1", got)
	}
}
