// Package stages provides the leaf processors that adapt external services
// and detectors into the frame chain: voice-activity gating with turn
// detection, transcription, language-model inference, and speech synthesis.
//
// Every stage embeds [pipeline.Base] and follows the same protocol: frames
// it does not intercept are forwarded unchanged; external calls run on the
// stage's own goroutine with a cancel function the interruption and
// cancellation frames invoke, so a superseded response can never emit late
// frames; recoverable faults become Error frames pushed upstream.
package stages

import (
	"context"

	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
	"github.com/voxflow/voxflow/pkg/turn"
	"github.com/voxflow/voxflow/pkg/vad"
)

// VADGate classifies each input-audio chunk as speech or silence, feeds the
// turn analyzer, and converts its decisions into control frames: it emits
// UserStartedSpeaking / UserStoppedSpeaking on voice-activity transitions
// and a ResponseTrigger carrying the accumulated turn audio when a turn
// completes. Raw input audio is consumed here; later stages only see the
// gate's control and trigger frames.
type VADGate struct {
	pipeline.Base

	detector      vad.Detector
	cfg           vad.Config
	analyzer      *turn.Analyzer
	pauseAnalysis bool
	onDecision    func(turn.Decision)

	session    vad.Session
	speaking   bool
	turnPCM    []byte
	sampleRate int
}

// VADGateOption configures a [VADGate].
type VADGateOption func(*VADGate)

// WithVADConfig overrides the detector session configuration. The sample
// rate is always taken from the session's Start frame.
func WithVADConfig(cfg vad.Config) VADGateOption {
	return func(g *VADGate) { g.cfg = cfg }
}

// WithPauseAnalysis makes the gate run the analyzer's classifier path when
// speech stops, catching turn completions before the silence timer fires.
func WithPauseAnalysis() VADGateOption {
	return func(g *VADGate) { g.pauseAnalysis = true }
}

// WithDecisionHook registers fn to observe every turn decision the gate
// acts on. Used for metrics.
func WithDecisionHook(fn func(turn.Decision)) VADGateOption {
	return func(g *VADGate) { g.onDecision = fn }
}

// NewVADGate creates the gating stage around a detector and a per-session
// turn analyzer.
func NewVADGate(detector vad.Detector, analyzer *turn.Analyzer, opts ...VADGateOption) *VADGate {
	g := &VADGate{
		Base:     pipeline.NewBase("vad-gate"),
		detector: detector,
		cfg:      vad.Config{Threshold: 0.02, HangoverChunks: 4},
		analyzer: analyzer,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

var _ pipeline.Processor = (*VADGate)(nil)

// Receive implements [pipeline.Processor].
func (g *VADGate) Receive(ctx context.Context, f frame.Frame, dir frame.Direction) error {
	switch f := f.(type) {
	case *frame.Start:
		g.sampleRate = f.SampleRate
		cfg := g.cfg
		cfg.SampleRate = f.SampleRate
		session, err := g.detector.NewSession(cfg)
		if err != nil {
			return g.PushError(ctx, err, true)
		}
		g.session = session
		return g.Forward(ctx, f, dir)

	case *frame.InputAudio:
		if dir == frame.Upstream || g.session == nil {
			return g.Forward(ctx, f, dir)
		}
		return g.handleAudio(ctx, f)

	case *frame.Cancel, *frame.End:
		g.reset()
		return g.Forward(ctx, f, dir)

	default:
		return g.Forward(ctx, f, dir)
	}
}

func (g *VADGate) handleAudio(ctx context.Context, f *frame.InputAudio) error {
	isSpeech, err := g.session.ProcessChunk(f.PCM)
	if err != nil {
		return g.PushError(ctx, err, false)
	}

	stopped := false
	if isSpeech && !g.speaking {
		g.speaking = true
		if err := g.PushDownstream(ctx, frame.NewUserStartedSpeaking()); err != nil {
			return err
		}
	} else if !isSpeech && g.speaking {
		g.speaking = false
		stopped = true
		if err := g.PushDownstream(ctx, frame.NewUserStoppedSpeaking()); err != nil {
			return err
		}
	}

	// Keep the turn's audio for the trigger payload. Appending while the
	// analyzer is triggered (not merely during VAD speech) keeps trailing
	// pauses inside the turn.
	if isSpeech || g.analyzer.SpeechTriggered() {
		g.turnPCM = append(g.turnPCM, f.PCM...)
	}

	decision := g.analyzer.AppendAudio(f.PCM, isSpeech)

	// The silence timer takes priority; the classifier path only runs on a
	// fresh pause that the timer has not already resolved.
	if decision == turn.Incomplete && stopped && g.pauseAnalysis && g.analyzer.SpeechTriggered() {
		d, err := g.analyzer.AnalyzeEndOfTurn(ctx)
		if err != nil {
			if perr := g.PushError(ctx, err, false); perr != nil {
				return perr
			}
		} else {
			decision = d
		}
	}

	if g.onDecision != nil {
		g.onDecision(decision)
	}

	if decision == turn.Complete {
		pcm := g.turnPCM
		g.turnPCM = nil
		return g.PushDownstream(ctx, frame.NewResponseTrigger(pcm, g.sampleRate))
	}
	return nil
}

func (g *VADGate) reset() {
	if g.session != nil {
		g.session.Reset()
	}
	g.speaking = false
	g.turnPCM = nil
}
