// Package vad defines the voice-activity detection contract consumed by the
// pipeline's gating stage, plus a built-in energy detector so pipelines and
// tests run without a vendor model.
//
// VAD is synchronous by design: ProcessChunk returns immediately with a
// per-chunk speech flag, making it suitable for the low-latency path that
// feeds the turn analyzer. A Session holds per-stream smoothing state and
// must not be shared across goroutines; create one session per audio stream.
package vad

import (
	"errors"
	"fmt"
	"math"

	"github.com/voxflow/voxflow/pkg/turn"
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the PCM sample rate in Hz of the chunks passed to
	// ProcessChunk.
	SampleRate int

	// Threshold is the normalised RMS energy above which a chunk counts as
	// speech, in [0, 1]. Typical: 0.02 for close-mic input.
	Threshold float64

	// HangoverChunks keeps a session in the speech state for this many
	// consecutive sub-threshold chunks, smoothing over intra-word gaps.
	HangoverChunks int
}

// Session is an active detection session for a single audio stream.
type Session interface {
	// ProcessChunk classifies one chunk of 16-bit signed little-endian PCM.
	// It must not block.
	ProcessChunk(pcm []byte) (bool, error)

	// Reset clears accumulated state without closing the session. Use when
	// the audio stream restarts so stale state does not leak into the next
	// segment.
	Reset()
}

// Detector is the factory for sessions, implemented by each VAD backend.
// Implementations must be safe for concurrent NewSession calls.
type Detector interface {
	NewSession(cfg Config) (Session, error)
}

// ─── Built-in energy detector ─────────────────────────────────────────────────

// Energy is a Detector based on normalised RMS energy with a hangover
// counter. It is not a substitute for a model-based VAD in noisy input, but
// it needs no external resources.
type Energy struct{}

var _ Detector = Energy{}

// NewSession implements [Detector].
func (Energy) NewSession(cfg Config) (Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold %v out of range (0, 1)", cfg.Threshold)
	}
	if cfg.HangoverChunks < 0 {
		return nil, errors.New("vad: hangover chunk count must not be negative")
	}
	return &energySession{cfg: cfg}, nil
}

type energySession struct {
	cfg      Config
	hangover int
}

func (s *energySession) ProcessChunk(pcm []byte) (bool, error) {
	if len(pcm) < 2 {
		return false, errors.New("vad: chunk too short")
	}
	samples := turn.DecodePCM16(pcm)

	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	if rms >= s.cfg.Threshold {
		s.hangover = s.cfg.HangoverChunks
		return true, nil
	}
	if s.hangover > 0 {
		s.hangover--
		return true, nil
	}
	return false, nil
}

func (s *energySession) Reset() {
	s.hangover = 0
}
